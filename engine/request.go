/*
request.go - Reward request lifecycle

PURPOSE:
  Drives a user's claim against an event through the state machine and
  issues the event's rewards exactly once per approved request.

REQUEST FLOW:
  ┌──────────────────────────────────────────────────────────────────────┐
  │                                                                      │
  │  Create ──▶ event lookup ──▶ live-request check ──▶ window/condition │
  │                                                          │           │
  │                                                          ▼           │
  │                                                   insert PENDING     │
  │                                                          │           │
  │                         AUTO: synchronous Process(APPROVED)          │
  │                                                          │           │
  │  Process ──▶ CAS PENDING→APPROVED ──▶ Issue ──▶ CAS APPROVED→COMPLETED
  │          └─▶ CAS PENDING→REJECTED                                    │
  │                                                                      │
  └──────────────────────────────────────────────────────────────────────┘

CONCURRENCY:
  Nothing here is guarded by an in-process lock. The two races that matter
  are settled by the store:
  - N concurrent Create for one (user, event): the live-request uniqueness
    constraint admits exactly one insert, the rest get ErrConflict.
  - N concurrent Process for one request: CompareAndSwapStatus admits
    exactly one PENDING→x write, the rest get ErrFailedPrecondition.

FORWARD-ONLY RECOVERY:
  A failure partway through Issue leaves the request APPROVED with a
  partial ledger. Nothing is rolled back. Re-invoking Issue (operator or
  IssuanceScheduler) re-runs the loop from the top; Ledger.Record is
  idempotent so only the missing rewards get written.

EXAMPLE:
  svc := &RequestService{Requests: store, Events: events, Rewards: rewards, ...}

  req, err := svc.Create(ctx, userID, eventID)           // AUTO: COMPLETED
  req, err = svc.Process(ctx, req.ID.String(), RequestApproved, adminID)

SEE ALSO:
  - ledger.go:     idempotent Record
  - validators.go: condition strategies
  - store.go:      uniqueness and CAS guarantees
*/
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultValidatorTimeout bounds a single condition check.
const DefaultValidatorTimeout = 3 * time.Second

// SystemActor is recorded as the actor of automatic transitions.
const SystemActor = "system"

var tracer = otel.Tracer("github.com/warp/reward-engine/engine")

// =============================================================================
// REQUEST SERVICE
// =============================================================================

type RequestService struct {
	Requests   RequestStore
	Events     *EventCatalog
	Rewards    *RewardCatalog
	Ledger     *IssuanceLedger
	Validators *Registry
	Audit      AuditLog // optional
	Clock      Clock
	Metrics    *Metrics
	Logger     logrus.FieldLogger

	// ValidatorTimeout bounds each condition check. Zero means DefaultValidatorTimeout.
	ValidatorTimeout time.Duration
}

// Create submits a request by userID against eventID.
//
// For AUTO events the condition is checked here and, on success, the request
// is approved and issued before returning, so the result is COMPLETED. For
// MANUAL events the result is PENDING.
func (s *RequestService) Create(ctx context.Context, rawUserID, rawEventID string) (_ *RewardRequest, err error) {
	ctx, span := tracer.Start(ctx, "RequestService.Create")
	defer func() { s.finish(span, "create_request", err) }()

	userID, err := ParseID("userId", rawUserID)
	if err != nil {
		return nil, err
	}
	eventID, err := ParseID("eventId", rawEventID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", userID.String()), attribute.String("event.id", eventID.String()))

	event, err := s.Events.getFresh(ctx, eventID)
	if err != nil {
		return nil, err
	}

	// Advisory: gives the caller Conflict ahead of an eligibility error. The
	// insert below is what actually enforces uniqueness.
	existing, err := s.Requests.FindLiveRequest(ctx, userID, eventID)
	switch {
	case err == nil:
		return nil, conflict("create_request", "Already requested for this event (request %s is %s)", existing.ID, existing.Status)
	case !errors.Is(err, ErrRecordNotFound):
		return nil, storeError("create_request", err)
	}

	now := s.clock().Now()
	if !s.Events.IsEligibleWindow(event, now) {
		return nil, failedPrecondition("create_request", "event %s is not open for requests (status %s, window %s to %s)",
			event.ID, event.Status, event.StartDate.Format(time.RFC3339), event.EndDate.Format(time.RFC3339))
	}
	if event.VerificationType == VerificationAuto {
		if err := s.checkCondition(ctx, userID, event); err != nil {
			return nil, err
		}
	}

	req := RewardRequest{
		ID:          NewID(),
		UserID:      userID,
		EventID:     eventID,
		Status:      RequestPending,
		RequestedAt: now,
	}
	if err := s.Requests.InsertRequest(ctx, req); err != nil {
		if errors.Is(err, ErrDuplicateLiveRequest) {
			return nil, conflict("create_request", "Already requested for this event")
		}
		return nil, storeError("create_request", err)
	}
	s.Metrics.incCreated(event.VerificationType)
	s.audit(ctx, AuditEntry{
		ActorID:   userID.String(),
		Action:    AuditRequestCreated,
		RequestID: req.ID,
		EventID:   eventID,
		UserID:    userID,
		Payload:   map[string]any{"verification": string(event.VerificationType)},
	})
	s.logger().WithFields(logrus.Fields{
		"request_id":   req.ID,
		"user_id":      userID,
		"event_id":     eventID,
		"verification": event.VerificationType,
	}).Info("reward request created")

	if event.VerificationType != VerificationAuto {
		return &req, nil
	}
	return s.process(ctx, &req, RequestApproved, nil)
}

// CheckCondition previews whether userID could request a reward from
// eventID right now. It fails like Create when the event is missing,
// inactive or outside its window. MANUAL events always report true since an
// operator decides later; AUTO events report the validator's answer.
func (s *RequestService) CheckCondition(ctx context.Context, rawEventID, rawUserID string) (_ bool, err error) {
	ctx, span := tracer.Start(ctx, "RequestService.CheckCondition")
	defer func() { s.finish(span, "check_condition", err) }()

	eventID, err := ParseID("eventId", rawEventID)
	if err != nil {
		return false, err
	}
	userID, err := ParseID("userId", rawUserID)
	if err != nil {
		return false, err
	}
	span.SetAttributes(attribute.String("user.id", userID.String()), attribute.String("event.id", eventID.String()))

	event, err := s.Events.getFresh(ctx, eventID)
	if err != nil {
		return false, err
	}
	if !s.Events.IsEligibleWindow(event, s.clock().Now()) {
		return false, failedPrecondition("check_condition", "event %s is not open for requests (status %s)", event.ID, event.Status)
	}
	if event.VerificationType == VerificationManual {
		return true, nil
	}
	return s.evaluateCondition(ctx, userID, event)
}

// checkCondition runs the event's validator and fails when it is not met.
func (s *RequestService) checkCondition(ctx context.Context, userID ID, event *Event) error {
	ok, err := s.evaluateCondition(ctx, userID, event)
	if err != nil {
		return err
	}
	if !ok {
		return failedPrecondition("validate_condition", "Event conditions are not met (%s >= %s)", event.ConditionType, event.ConditionValue)
	}
	return nil
}

// evaluateCondition runs the event's validator under the configured timeout.
func (s *RequestService) evaluateCondition(ctx context.Context, userID ID, event *Event) (bool, error) {
	validator, err := s.Validators.Resolve(event.ConditionType)
	if err != nil {
		return false, err
	}
	timeout := s.ValidatorTimeout
	if timeout <= 0 {
		timeout = DefaultValidatorTimeout
	}
	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := validator.Validate(vctx, userID, event.ConditionValue)
	if err != nil {
		return false, transient("validate_condition", err)
	}
	if vctx.Err() != nil {
		// validator ignored its context and returned late
		return false, transient("validate_condition", vctx.Err())
	}
	return ok, nil
}

// Process applies decision (APPROVED or REJECTED) to a PENDING request.
// An empty rawProcessorID records no processor. APPROVED continues into
// issuance and returns the COMPLETED request.
func (s *RequestService) Process(ctx context.Context, rawRequestID string, decision RequestStatus, rawProcessorID string) (_ *RewardRequest, err error) {
	ctx, span := tracer.Start(ctx, "RequestService.Process")
	defer func() { s.finish(span, "process_request", err) }()

	requestID, err := ParseID("request ID", rawRequestID)
	if err != nil {
		return nil, err
	}
	if decision != RequestApproved && decision != RequestRejected {
		return nil, invalidArgument("process_request", "decision must be APPROVED or REJECTED, got %q", decision)
	}
	processorID, err := ParseOptionalID("processedBy", rawProcessorID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("request.id", requestID.String()), attribute.String("decision", string(decision)))

	req, err := s.get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, req, decision, processorID)
}

func (s *RequestService) process(ctx context.Context, req *RewardRequest, decision RequestStatus, processorID *ID) (*RewardRequest, error) {
	if req.Status != RequestPending {
		return nil, failedPrecondition("process_request", "Request has already been processed (status %s)", req.Status)
	}

	var rewards []Reward
	if decision == RequestApproved {
		var err error
		rewards, err = s.Rewards.listByEvent(ctx, req.EventID)
		if err != nil {
			return nil, err
		}
		if len(rewards) == 0 {
			return nil, failedPrecondition("process_request", "No rewards found for this event. Cannot approve the request.")
		}
	}

	now := s.clock().Now()
	updated, err := s.Requests.CompareAndSwapStatus(ctx, RequestTransition{
		ID:          req.ID,
		From:        RequestPending,
		To:          decision,
		ProcessedAt: &now,
		ProcessedBy: processorID,
	})
	switch {
	case errors.Is(err, ErrStatusMismatch):
		return nil, failedPrecondition("process_request", "Request has already been processed")
	case errors.Is(err, ErrRecordNotFound):
		return nil, notFound("process_request", "request with ID %s not found", req.ID)
	case err != nil:
		return nil, storeError("process_request", err)
	}

	actor := SystemActor
	if processorID != nil {
		actor = processorID.String()
	}
	action := AuditRequestApproved
	if decision == RequestRejected {
		action = AuditRequestRejected
	}
	s.Metrics.incDecision(decision)
	s.audit(ctx, AuditEntry{
		ActorID:   actor,
		Action:    action,
		RequestID: updated.ID,
		EventID:   updated.EventID,
		UserID:    updated.UserID,
	})
	s.logger().WithFields(logrus.Fields{
		"request_id": updated.ID,
		"decision":   decision,
		"actor":      actor,
	}).Info("reward request processed")

	if decision == RequestRejected {
		return updated, nil
	}
	return s.issue(ctx, updated, rewards)
}

// Issue (re)runs issuance for an APPROVED request. COMPLETED requests are
// returned unchanged. Safe to call any number of times.
func (s *RequestService) Issue(ctx context.Context, rawRequestID string) (_ *RewardRequest, err error) {
	ctx, span := tracer.Start(ctx, "RequestService.Issue")
	defer func() { s.finish(span, "issue_request", err) }()

	requestID, err := ParseID("request ID", rawRequestID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("request.id", requestID.String()))

	req, err := s.get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	switch req.Status {
	case RequestCompleted:
		return req, nil
	case RequestApproved:
	default:
		return nil, failedPrecondition("issue_request", "request %s is %s, only APPROVED requests can be issued", req.ID, req.Status)
	}

	rewards, err := s.Rewards.listByEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, req, rewards)
}

// issue writes one ledger entry per reward, then completes the request.
// Any failure leaves the request APPROVED.
func (s *RequestService) issue(ctx context.Context, req *RewardRequest, rewards []Reward) (*RewardRequest, error) {
	start := time.Now()
	defer func() { s.Metrics.observeIssuance(time.Since(start)) }()

	for _, reward := range rewards {
		if _, err := s.Ledger.Record(ctx, req.ID, req.UserID, req.EventID, reward.ID, reward.Quantity); err != nil {
			s.audit(ctx, AuditEntry{
				ActorID:   SystemActor,
				Action:    AuditIssuanceFailed,
				RequestID: req.ID,
				EventID:   req.EventID,
				UserID:    req.UserID,
				Payload:   map[string]any{"reward_id": reward.ID.String(), "error": err.Error()},
			})
			s.logger().WithFields(logrus.Fields{
				"request_id": req.ID,
				"reward_id":  reward.ID,
			}).WithError(err).Warn("issuance incomplete, request left APPROVED")
			return nil, err
		}
	}

	completed, err := s.Requests.CompareAndSwapStatus(ctx, RequestTransition{
		ID:   req.ID,
		From: RequestApproved,
		To:   RequestCompleted,
	})
	if errors.Is(err, ErrStatusMismatch) {
		// A concurrent issuer may have finished first.
		current, getErr := s.get(ctx, req.ID)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == RequestCompleted {
			return current, nil
		}
		return nil, failedPrecondition("issue_request", "request %s is %s, only APPROVED requests can be issued", req.ID, current.Status)
	}
	if err != nil {
		return nil, storeError("issue_request", err)
	}

	s.audit(ctx, AuditEntry{
		ActorID:   SystemActor,
		Action:    AuditRequestCompleted,
		RequestID: completed.ID,
		EventID:   completed.EventID,
		UserID:    completed.UserID,
		Payload:   map[string]any{"rewards": len(rewards)},
	})
	s.logger().WithFields(logrus.Fields{
		"request_id": completed.ID,
		"rewards":    len(rewards),
	}).Info("rewards issued")
	return completed, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *RequestService) Get(ctx context.Context, rawRequestID string) (*RewardRequest, error) {
	requestID, err := ParseID("request ID", rawRequestID)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, requestID)
}

func (s *RequestService) get(ctx context.Context, id ID) (*RewardRequest, error) {
	req, err := s.Requests.GetRequest(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, notFound("get_request", "request with ID %s not found", id)
	}
	if err != nil {
		return nil, storeError("get_request", err)
	}
	return req, nil
}

func (s *RequestService) List(ctx context.Context, filter RequestFilter) ([]RewardRequest, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, invalidArgument("list_requests", "unknown request status %q", *filter.Status)
	}
	reqs, err := s.Requests.ListRequests(ctx, filter)
	if err != nil {
		return nil, storeError("list_requests", err)
	}
	return reqs, nil
}

func (s *RequestService) ListByUser(ctx context.Context, rawUserID string) ([]RewardRequest, error) {
	userID, err := ParseID("userId", rawUserID)
	if err != nil {
		return nil, err
	}
	return s.List(ctx, RequestFilter{UserID: &userID})
}

// ListStalled returns APPROVED requests processed more than olderThan ago.
// These are issuances that failed partway and still need a retry.
func (s *RequestService) ListStalled(ctx context.Context, olderThan time.Duration) ([]RewardRequest, error) {
	status := RequestApproved
	cutoff := s.clock().Now().Add(-olderThan)
	return s.List(ctx, RequestFilter{Status: &status, ProcessedBefore: &cutoff})
}

// AuditTrail returns the audit entries for a request, oldest first.
func (s *RequestService) AuditTrail(ctx context.Context, rawRequestID string) ([]AuditEntry, error) {
	requestID, err := ParseID("request ID", rawRequestID)
	if err != nil {
		return nil, err
	}
	if _, err := s.get(ctx, requestID); err != nil {
		return nil, err
	}
	if s.Audit == nil {
		return nil, nil
	}
	entries, err := s.Audit.QueryAudit(ctx, AuditFilter{RequestID: &requestID})
	if err != nil {
		return nil, storeError("audit_trail", err)
	}
	return entries, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// audit is best-effort: the state change already happened, a lost audit
// row must not turn it into an error.
func (s *RequestService) audit(ctx context.Context, entry AuditEntry) {
	if s.Audit == nil {
		return
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = s.clock().Now()
	if err := s.Audit.AppendAudit(ctx, entry); err != nil {
		s.logger().WithError(err).WithField("action", entry.Action).Warn("failed to append audit entry")
	}
}

func (s *RequestService) finish(span trace.Span, op string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.Metrics.observeError(op, err)
	}
	span.End()
}

func (s *RequestService) clock() Clock {
	if s.Clock == nil {
		return SystemClock{}
	}
	return s.Clock
}

func (s *RequestService) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}
