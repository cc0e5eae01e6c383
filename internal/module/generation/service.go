package generation

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/naigate/server/internal/module/metering"
	apperrors "github.com/naigate/server/internal/shared/errors"
	"github.com/naigate/server/internal/utils/metrics"
)

// Feature pool tags. Each backend meters against its own quota pool.
const (
	FeatureNovelAI    = "novelai"
	FeatureMidjourney = "mj"
)

// Midjourney relay actions.
const (
	mjActionImagine = "imagine"
	mjActionFetch   = "fetch"
)

// Result is a completed generation: the extracted image plus the decision
// that admitted it.
type Result struct {
	Image    []byte
	Decision metering.Decision
}

// Service coordinates one generation request end to end: authorization,
// upstream call, container extraction and credit settlement.
type Service struct {
	resolver *metering.Resolver
	credits  *metering.CreditStore
	novelai  *NovelAIClient
	mj       *MJClient
	metrics  *metrics.Metrics
	logger   *zap.Logger
	seed     func() int64
}

// NewService creates the orchestrator. credits may be nil when no store is
// configured; settlement is then skipped (only free-tier traffic exists in
// that mode anyway).
func NewService(
	resolver *metering.Resolver,
	credits *metering.CreditStore,
	novelai *NovelAIClient,
	mj *MJClient,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		resolver: resolver,
		credits:  credits,
		novelai:  novelai,
		mj:       mj,
		metrics:  m,
		logger:   logger,
		seed:     func() int64 { return rand.Int63n(1 << 32) },
	}
}

// Generate runs the full pipeline for one image request. Rejections return
// before any upstream call; settlement runs only for card-backed callers
// after a successful extraction.
func (s *Service) Generate(ctx context.Context, id metering.Identity, req *GenerateRequest) (*Result, error) {
	decision, err := s.resolver.Resolve(ctx, id, FeatureNovelAI)
	if err != nil {
		s.countRejection(err, FeatureNovelAI)
		return nil, err
	}
	s.countAdmission(decision, FeatureNovelAI)

	// Past admission the request runs to completion: a client disconnect
	// must not abort the paid upstream call or the settlement that follows.
	ctx = context.WithoutCancel(ctx)

	payload := buildPayload(req, s.seed())

	start := time.Now()
	upstream, err := s.novelai.Generate(ctx, payload)
	if err != nil {
		// Upstream failure: error passed through, nothing settled. Quota
		// for free-tier callers was already charged at admission.
		s.recordUpstream(FeatureNovelAI, apperrors.GetStatusCode(err), start)
		return nil, err
	}
	s.recordUpstream(FeatureNovelAI, http.StatusOK, start)

	image, err := Extract(upstream.Body)
	if err != nil {
		s.logger.Error("container extraction failed",
			zap.Int("body_bytes", len(upstream.Body)),
			zap.String("content_type", upstream.ContentType),
			zap.Error(err))
		return nil, extractionError(err, upstream)
	}

	s.settle(ctx, decision)

	return &Result{Image: image, Decision: decision}, nil
}

// MJ relays a Midjourney action. Task submission is metered through the
// same cascade under its own feature pool; polling an existing task is
// free.
func (s *Service) MJ(ctx context.Context, id metering.Identity, req *MJRequest) (json.RawMessage, *metering.Decision, error) {
	if !s.mj.Enabled() {
		return nil, nil, apperrors.Forbidden("midjourney backend is not enabled")
	}

	switch req.Action {
	case mjActionImagine:
		decision, err := s.resolver.Resolve(ctx, id, FeatureMidjourney)
		if err != nil {
			s.countRejection(err, FeatureMidjourney)
			return nil, nil, err
		}
		s.countAdmission(decision, FeatureMidjourney)

		// Admitted tasks run to completion even if the caller goes away.
		ctx = context.WithoutCancel(ctx)

		start := time.Now()
		reply, err := s.mj.Imagine(ctx, req.Prompt)
		if err != nil {
			s.recordUpstream(FeatureMidjourney, apperrors.GetStatusCode(err), start)
			return nil, nil, err
		}
		s.recordUpstream(FeatureMidjourney, http.StatusOK, start)

		s.settle(ctx, decision)
		return reply, &decision, nil

	case mjActionFetch:
		if req.TaskID == "" {
			return nil, nil, apperrors.NewAppError("BAD_REQUEST", "taskId is required for fetch", http.StatusBadRequest, nil)
		}
		reply, err := s.mj.FetchTask(ctx, req.TaskID)
		return reply, nil, err

	default:
		return nil, nil, apperrors.NewAppError("BAD_REQUEST",
			fmt.Sprintf("unknown action %q", req.Action), http.StatusBadRequest, nil)
	}
}

// settle deducts one credit for card-backed callers. Best effort: a failed
// write is a degraded-mode condition, not a request failure.
func (s *Service) settle(ctx context.Context, decision metering.Decision) {
	if decision.Role != metering.RoleVip || s.credits == nil {
		return
	}

	if err := s.credits.Settle(ctx, decision.CardID, decision.ObservedBalance()); err != nil {
		s.logger.Error("credit settlement failed",
			zap.String("card_id", decision.CardID),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.SettlementsTotal.WithLabelValues("error").Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.SettlementsTotal.WithLabelValues("ok").Inc()
	}
}

// extractionError shapes the diagnostic payload for an unrecognizable
// container.
func extractionError(err error, upstream *UpstreamImage) error {
	head := upstream.Body
	if len(head) > 16 {
		head = head[:16]
	}
	return apperrors.NoImageFound(map[string]any{
		"body_bytes":   len(upstream.Body),
		"leading_hex":  hex.EncodeToString(head),
		"content_type": upstream.ContentType,
		"cause":        err.Error(),
	})
}

func (s *Service) countAdmission(decision metering.Decision, feature string) {
	if s.metrics != nil {
		s.metrics.AdmissionsTotal.WithLabelValues(string(decision.Role), feature).Inc()
	}
}

func (s *Service) recordUpstream(backend string, status int, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordUpstream(backend, status, time.Since(start))
	}
}

func (s *Service) countRejection(err error, feature string) {
	if s.metrics == nil {
		return
	}
	reason := "UNKNOWN"
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		reason = appErr.Code
	}
	s.metrics.RejectionsTotal.WithLabelValues(reason, feature).Inc()
}
