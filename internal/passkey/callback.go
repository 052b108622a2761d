package passkey

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

const callbackPage = `<!doctype html>
<html><head><meta charset="utf-8"><title>one of us</title></head>
<body><p>%s</p><p>You can close this window.</p><script>window.close()</script></body></html>`

// CallbackHandler serves the provider redirect. It relays the result on the
// auth channel when the request carries an rid, and on the sign channel
// keyed by id otherwise.
func CallbackHandler(bus Bus, logger zerolog.Logger) http.Handler {
	logger = logger.With().Str("component", "passkey_callback").Logger()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		params, complete := ParseCallback(r.URL.Query())

		channel, key := ChannelSign, params.ID
		if params.RID != "" {
			channel, key = ChannelAuth, params.RID
		}
		if key == "" {
			http.Error(w, "missing id", http.StatusBadRequest)
			return
		}

		var msg Message
		switch {
		case params.Error != "":
			msg = Message{Type: TypeError, ID: key, Error: params.Error}
		case complete:
			result := params.SignedResult
			msg = Message{Type: TypeResult, ID: key, Payload: &result}
		default:
			http.Error(w, "missing callback parameters", http.StatusBadRequest)
			return
		}

		if err := bus.Publish(r.Context(), channel, msg); err != nil {
			logger.Error().Err(err).Str("channel", channel).Msg("failed to relay passkey callback")
			http.Error(w, "failed to relay result", http.StatusBadGateway)
			return
		}

		logger.Debug().Str("channel", channel).Str("type", msg.Type).Msg("passkey callback relayed")

		status := "Signed in."
		if msg.Type == TypeError {
			status = "Passkey request failed."
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprintf(w, callbackPage, status)
	})
}
