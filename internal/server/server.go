// Package server exposes the interlock to operator tools over gRPC.
//
// The service is described by a hand-written grpc.ServiceDesc whose
// messages are google.protobuf.Struct. Tokens travel as decimal strings
// because Struct numbers are float64 and cannot hold a full uint64.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/wheelguard/internal/faultdb"
	"github.com/ppiankov/wheelguard/internal/interlock"
	"github.com/ppiankov/wheelguard/internal/logger"
	"github.com/ppiankov/wheelguard/internal/model"
)

// Config holds gRPC server configuration.
type Config struct {
	// Listen is the TCP address, e.g. "127.0.0.1:9741".
	Listen string
}

// Server implements InterlockServer on top of an Interlock.
type Server struct {
	il     *interlock.Interlock
	faults *faultdb.DB
	logger *slog.Logger
	cfg    Config

	mu         sync.RWMutex
	policyHash string

	grpcServer *grpc.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithFaultDB enables ListFaults.
func WithFaultDB(db *faultdb.DB) Option {
	return func(s *Server) { s.faults = db }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithPolicyHash sets the hash reported by Status.
func WithPolicyHash(hash string) Option {
	return func(s *Server) { s.policyHash = hash }
}

// New creates a gRPC server for il.
func New(cfg Config, il *interlock.Interlock, opts ...Option) *Server {
	s := &Server{il: il, cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrDiscard(s.logger).With("component", "server")
	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(s.logCalls))
	s.grpcServer.RegisterService(&ServiceDesc, s)
	return s
}

// Serve listens on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.ServeOn(lis)
}

// ServeOn serves on the given listener.
func (s *Server) ServeOn(lis net.Listener) error {
	s.logger.Info("operator API listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight calls and stops the server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// SetPolicyHash records the hash of the config now in effect. Called by
// the config reloader.
func (s *Server) SetPolicyHash(hash string) {
	s.mu.Lock()
	s.policyHash = hash
	s.mu.Unlock()
}

// PolicyHash returns the hash of the config in effect.
func (s *Server) PolicyHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policyHash
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		s.logger.Info("rpc failed", "method", info.FullMethod, "code", status.Code(err).String(),
			"duration", time.Since(start), logger.Err(err))
	} else {
		s.logger.Debug("rpc", "method", info.FullMethod, "duration", time.Since(start))
	}
	return resp, err
}

// Status returns the state, ceilings, pending challenge, tokens and fault
// counters.
func (s *Server) Status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	st := s.il.State()
	out := map[string]any{
		"state":          string(st.Kind()),
		"detail":         st.String(),
		"limit_nm":       float64(s.il.CurrentLimit()),
		"safe_nm":        float64(s.il.Policy().GetMaxTorque(false)),
		"high_nm":        float64(s.il.Policy().GetMaxTorque(true)),
		"policy_hash":    s.PolicyHash(),
		"dropped_events": float64(s.il.DroppedEvents()),
	}

	if c, ok := s.il.ActiveChallenge(); ok {
		ch := map[string]any{
			"token":         formatToken(c.Token),
			"device_id":     c.DeviceID,
			"consent_given": c.UIConsentGiven,
			"combo_started": c.ComboStarted(),
			"expires_at":    c.ExpiresAt().UTC().Format(time.RFC3339Nano),
		}
		if rem, ok := s.il.ChallengeTimeRemaining(); ok {
			ch["remaining_ms"] = float64(rem.Milliseconds())
		}
		out["challenge"] = ch
	}

	tokens := make(map[string]any)
	for id, tok := range s.il.Tokens() {
		tokens[id] = map[string]any{
			"token":        formatToken(tok.Token),
			"activated_at": tok.ActivatedAt.UTC().Format(time.RFC3339Nano),
		}
	}
	out["tokens"] = tokens

	counts := make(map[string]any)
	for f, n := range s.il.FaultCounts() {
		counts[string(f)] = float64(n)
	}
	out["fault_counts"] = counts

	return structpb.NewStruct(out)
}

// RequestHighTorque issues a challenge for device_id.
func (s *Server) RequestHighTorque(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	deviceID := stringField(in, "device_id")
	if deviceID == "" {
		return nil, invalidArgument("device_id is required")
	}
	c, err := s.il.RequestHighTorque(deviceID)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"challenge_token": formatToken(c.Token),
		"device_id":       c.DeviceID,
		"combo_required":  c.ComboRequired.String(),
		"expires_at":      c.ExpiresAt().UTC().Format(time.RFC3339Nano),
	})
}

// ProvideConsent records operator consent for challenge_token.
func (s *Server) ProvideConsent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	token, err := tokenField(in, "challenge_token")
	if err != nil {
		return nil, err
	}
	if err := s.il.ProvideUIConsent(token); err != nil {
		return nil, toStatus(err)
	}
	return s.stateReply()
}

// ReportComboStart records that the physical combo began.
func (s *Server) ReportComboStart(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	token, err := tokenField(in, "challenge_token")
	if err != nil {
		return nil, err
	}
	if err := s.il.ReportComboStart(token); err != nil {
		return nil, toStatus(err)
	}
	return s.stateReply()
}

// ConfirmHighTorque completes the challenge with a firmware acknowledgement.
func (s *Server) ConfirmHighTorque(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	deviceID := stringField(in, "device_id")
	if deviceID == "" {
		return nil, invalidArgument("device_id is required")
	}
	challengeToken, err := tokenField(in, "challenge_token")
	if err != nil {
		return nil, err
	}
	deviceToken, err := tokenField(in, "device_token")
	if err != nil {
		return nil, err
	}
	combo, err := comboField(in)
	if err != nil {
		return nil, err
	}

	ack := model.InterlockAck{
		ChallengeToken: challengeToken,
		DeviceToken:    deviceToken,
		ComboCompleted: combo,
		Timestamp:      time.Now(),
	}
	if err := s.il.ConfirmHighTorque(deviceID, ack); err != nil {
		return nil, toStatus(err)
	}
	return s.stateReply()
}

// CancelChallenge abandons the pending challenge.
func (s *Server) CancelChallenge(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.il.CancelChallenge(); err != nil {
		return nil, toStatus(err)
	}
	return s.stateReply()
}

// DisableHighTorque revokes device_id's authorization.
func (s *Server) DisableHighTorque(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	deviceID := stringField(in, "device_id")
	if deviceID == "" {
		return nil, invalidArgument("device_id is required")
	}
	if err := s.il.DisableHighTorque(deviceID); err != nil {
		return nil, toStatus(err)
	}
	return s.stateReply()
}

// ReportFault faults the interlock. With device_id only that device's
// token is revoked.
func (s *Server) ReportFault(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fault, err := model.ParseFaultType(stringField(in, "fault"))
	if err != nil {
		return nil, invalidArgument("%v", err)
	}
	if deviceID := stringField(in, "device_id"); deviceID != "" {
		s.il.ReportDeviceFault(deviceID, fault)
	} else {
		s.il.ReportFault(fault)
	}
	return s.stateReply()
}

// ClearFault leaves Faulted once the minimum dwell has passed.
func (s *Server) ClearFault(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.il.ClearFault(); err != nil {
		return nil, toStatus(err)
	}
	return s.stateReply()
}

// ConsentRequirements returns the text the operator must acknowledge.
func (s *Server) ConsentRequirements(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	info := s.il.ConsentRequirements()
	return structpb.NewStruct(map[string]any{
		"max_torque_nm":             float64(info.MaxTorqueNm),
		"requires_explicit_consent": info.RequiresExplicitConsent,
		"warnings":                  stringsToList(info.Warnings),
		"disclaimers":               stringsToList(info.Disclaimers),
	})
}

// ListFaults returns stored fault history, newest first.
func (s *Server) ListFaults(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.faults == nil {
		return nil, status.Error(codes.Unavailable, "fault history is not enabled")
	}
	limit := int(numberField(in, "limit"))
	records, err := s.faults.Recent(ctx, stringField(in, "device_id"), limit)
	if err != nil {
		return nil, toStatus(err)
	}

	list := make([]any, 0, len(records))
	for _, r := range records {
		list = append(list, map[string]any{
			"id":        float64(r.ID),
			"at":        r.At.UTC().Format(time.RFC3339Nano),
			"device_id": r.DeviceID,
			"fault":     string(r.Fault),
			"critical":  r.Critical,
			"detail":    r.Detail,
		})
	}
	return structpb.NewStruct(map[string]any{"faults": list})
}

func (s *Server) stateReply() (*structpb.Struct, error) {
	st := s.il.State()
	return structpb.NewStruct(map[string]any{
		"state":    string(st.Kind()),
		"detail":   st.String(),
		"limit_nm": float64(s.il.CurrentLimit()),
	})
}

func formatToken(t uint64) string {
	return strconv.FormatUint(t, 10)
}

func stringField(in *structpb.Struct, key string) string {
	if in == nil {
		return ""
	}
	return in.GetFields()[key].GetStringValue()
}

func numberField(in *structpb.Struct, key string) float64 {
	if in == nil {
		return 0
	}
	return in.GetFields()[key].GetNumberValue()
}

func tokenField(in *structpb.Struct, key string) (uint64, error) {
	raw := stringField(in, key)
	if raw == "" {
		return 0, invalidArgument("%s is required", key)
	}
	t, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, invalidArgument("%s: %v", key, err)
	}
	return t, nil
}

// comboField reads "combo" ("both_clutch_paddles" or "custom_sequence")
// and "sequence". A missing combo means both clutch paddles.
func comboField(in *structpb.Struct) (model.ButtonCombo, error) {
	switch model.ComboKind(stringField(in, "combo")) {
	case "", model.ComboBothClutchPaddles:
		return model.BothClutchPaddles(), nil
	case model.ComboCustomSequence:
		return model.CustomSequence(uint32(numberField(in, "sequence"))), nil
	default:
		return model.ButtonCombo{}, invalidArgument("unknown combo %q", stringField(in, "combo"))
	}
}

func stringsToList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
