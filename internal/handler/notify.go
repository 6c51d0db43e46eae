package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/foodorder/internal/auth"
	"github.com/xenking/foodorder/internal/domain/notify"
	"github.com/xenking/foodorder/internal/domain/order"
	notifyhub "github.com/xenking/foodorder/internal/notify"
)

// branchListener upgrades staff of a branch to a notification websocket.
// Browsers cannot set headers on websocket requests, so the token comes in
// the "token" query parameter.
func (h *Handler) branchListener(w http.ResponseWriter, r *http.Request) {
	branchID, err := pathID(r, "branch_id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "token required")
		return
	}
	p, err := h.tokens.Verify(token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if a := p.Actor(); a.Kind != order.ActorStaff || a.BranchID != branchID {
		h.fail(w, r, order.ErrForbidden)
		return
	}
	h.hub.ServeWS(w, r, branchID)
}

// publishNotification accepts {branch_id, message} from internal services.
func (h *Handler) publishNotification(w http.ResponseWriter, r *http.Request) {
	info, err := h.apikeys.Authenticate(r.Context(), r.Header.Get(notifyhub.APIKeyHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !info.HasScope(auth.ScopeNotify) {
		writeError(w, http.StatusForbidden, "api key lacks "+auth.ScopeNotify)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, r, &badRequest{msg: "read body: " + err.Error()})
		return
	}
	env, err := notify.ParseEnvelope(body)
	if err != nil {
		h.fail(w, r, &badRequest{msg: errors.Wrap(err, "invalid notification").Error()})
		return
	}

	if env.Message.SentAt.IsZero() {
		env.Message.SentAt = time.Now()
	}
	if err := h.hub.Send(r.Context(), env.BranchID, env.Message); err != nil {
		h.fail(w, r, err)
		return
	}
	h.lg.Debug("Notification published",
		zap.String("key", info.Name),
		zap.Int64("branch_id", env.BranchID),
		zap.String("kind", string(env.Message.Kind)),
	)
	w.WriteHeader(http.StatusAccepted)
}
