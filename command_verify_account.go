package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type VerifyAccountMessage struct {
	EncodedUserID string
	Token         string
	OnResponse    func(*VerifyAccountResponse)
}

func (e VerifyAccountMessage) Type() string { return "user.verify" }

// VerifyAccountResponse carries the outcome of a link visit. Reason is
// for logs only, callers render the same page for every failure.
type VerifyAccountResponse struct {
	State  VerificationState `json:"state"`
	UserID string            `json:"user_id,omitempty"`
	Reason string            `json:"-"`
}

func (r VerifyAccountResponse) Verified() bool {
	return r.State == StateActive
}

// VerifyAccountHandler redeems a verification link. Bad links are reported
// through the response, only infrastructure failures return an error.
type VerifyAccountHandler struct {
	repo     RepositoryManager
	issuer   TokenIssuer
	logger   Logger
	activity ActivitySink
}

type VerifyAccountOption func(*VerifyAccountHandler)

func WithVerifyLogger(logger Logger) VerifyAccountOption {
	return func(h *VerifyAccountHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

func WithVerifyActivitySink(sink ActivitySink) VerifyAccountOption {
	return func(h *VerifyAccountHandler) {
		h.activity = normalizeActivitySink(sink)
	}
}

func NewVerifyAccountHandler(repo RepositoryManager, issuer TokenIssuer, opts ...VerifyAccountOption) *VerifyAccountHandler {
	h := &VerifyAccountHandler{
		repo:     repo,
		issuer:   issuer,
		logger:   defLogger{},
		activity: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	return h
}

func (h *VerifyAccountHandler) Execute(ctx context.Context, event VerifyAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyAccountHandler) execute(ctx context.Context, event VerifyAccountMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	resp := &VerifyAccountResponse{State: StateVerificationFailed}
	from := StateInactive

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		id, err := DecodeUserID(event.EncodedUserID)
		if err != nil {
			resp.Reason = "malformed_id"
			return nil
		}

		user, err := h.repo.Users().GetByIDTx(ctx, tx, id.String())
		if err != nil {
			if goerrors.IsNotFound(err) {
				resp.Reason = "unknown_user"
				return nil
			}
			return err
		}

		resp.UserID = user.ID.String()
		from = user.Status()

		if !h.issuer.Verify(user, event.Token) {
			resp.Reason = "invalid_token"
			return nil
		}

		next, err := Transition(from, StateActive)
		if err != nil {
			resp.Reason = "invalid_transition"
			return nil
		}

		if _, err := h.repo.Users().ActivateTx(ctx, tx, user); err != nil {
			return err
		}

		resp.State = next
		resp.Reason = ""
		return nil
	})

	if err != nil {
		h.logger.Error("verify account failed", "error", err)
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "account verification transaction failed")
	}

	eventType := ActivityEventVerified
	if !resp.Verified() {
		eventType = ActivityEventVerificationFailed
		h.logger.Info("verification link rejected", "reason", resp.Reason, "user_id", resp.UserID)
	}

	recordActivity(ctx, h.activity, h.logger, ActivityEvent{
		EventType: eventType,
		UserID:    resp.UserID,
		FromState: from,
		ToState:   resp.State,
		Reason:    resp.Reason,
	})

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}
