package server

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/wheelguard/internal/clock"
	"github.com/ppiankov/wheelguard/internal/faultdb"
	"github.com/ppiankov/wheelguard/internal/interlock"
	"github.com/ppiankov/wheelguard/internal/model"
)

var epoch = time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

type harness struct {
	il   *interlock.Interlock
	fc   *clock.FakeClock
	srv  *Server
	conn *grpc.ClientConn
}

// testServer spins up an in-process gRPC server on a random port.
func testServer(t *testing.T, opts ...Option) *harness {
	t.Helper()

	fc := clock.Fake(epoch)
	il := interlock.New(interlock.DefaultConfig(), interlock.WithClock(fc))
	srv := New(Config{Listen: "127.0.0.1:0"}, il, opts...)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
	})
	return &harness{il: il, fc: fc, srv: srv, conn: conn}
}

func (h *harness) invoke(t *testing.T, method string, in map[string]any) (map[string]any, error) {
	t.Helper()
	req, err := structpb.NewStruct(in)
	require.NoError(t, err)
	resp := new(structpb.Struct)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.conn.Invoke(ctx, FullMethod(method), req, resp); err != nil {
		return nil, err
	}
	return resp.AsMap(), nil
}

func (h *harness) mustInvoke(t *testing.T, method string, in map[string]any) map[string]any {
	t.Helper()
	out, err := h.invoke(t, method, in)
	require.NoError(t, err, method)
	return out
}

func TestStatusInitial(t *testing.T) {
	h := testServer(t, WithPolicyHash("sha256:abc"))

	out := h.mustInvoke(t, MethodStatus, nil)
	assert.Equal(t, "safe_torque", out["state"])
	assert.Equal(t, 5.0, out["limit_nm"])
	assert.Equal(t, 25.0, out["high_nm"])
	assert.Equal(t, "sha256:abc", out["policy_hash"])
	assert.NotContains(t, out, "challenge")
	assert.Empty(t, out["tokens"])
}

func TestFullHandshakeOverRPC(t *testing.T) {
	h := testServer(t)

	ch := h.mustInvoke(t, MethodRequestHighTorque, map[string]any{"device_id": "wheel-1"})
	token, ok := ch["challenge_token"].(string)
	require.True(t, ok, "token is a decimal string")
	require.NotEmpty(t, token)
	assert.Equal(t, "both_clutch_paddles", ch["combo_required"])

	out := h.mustInvoke(t, MethodProvideConsent, map[string]any{"challenge_token": token})
	assert.Equal(t, "awaiting_physical_ack", out["state"])

	h.mustInvoke(t, MethodReportComboStart, map[string]any{"challenge_token": token})
	h.fc.Advance(2100 * time.Millisecond)

	out = h.mustInvoke(t, MethodConfirmHighTorque, map[string]any{
		"device_id":       "wheel-1",
		"challenge_token": token,
		"device_token":    "424242",
	})
	assert.Equal(t, "high_torque_active", out["state"])
	assert.Equal(t, 25.0, out["limit_nm"])

	st := h.mustInvoke(t, MethodStatus, nil)
	tokens := st["tokens"].(map[string]any)
	require.Contains(t, tokens, "wheel-1")
	assert.Equal(t, "424242", tokens["wheel-1"].(map[string]any)["token"])

	out = h.mustInvoke(t, MethodDisableHighTorque, map[string]any{"device_id": "wheel-1"})
	assert.Equal(t, "safe_torque", out["state"])
}

func TestTokenKeepsFullPrecision(t *testing.T) {
	h := testServer(t)

	ch := h.mustInvoke(t, MethodRequestHighTorque, map[string]any{"device_id": "wheel-1"})
	c, ok := h.il.ActiveChallenge()
	require.True(t, ok)
	assert.Equal(t, formatToken(c.Token), ch["challenge_token"])
}

func TestStatusShowsPendingChallenge(t *testing.T) {
	h := testServer(t)
	h.mustInvoke(t, MethodRequestHighTorque, map[string]any{"device_id": "wheel-1"})
	h.fc.Advance(10 * time.Second)

	out := h.mustInvoke(t, MethodStatus, nil)
	ch, ok := out["challenge"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "wheel-1", ch["device_id"])
	assert.Equal(t, false, ch["consent_given"])
	assert.Equal(t, 20000.0, ch["remaining_ms"])
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(t *testing.T, h *harness)
		method string
		in     map[string]any
		code   codes.Code
		kind   interlock.Kind
	}{
		{
			name:   "missing device",
			method: MethodRequestHighTorque,
			in:     map[string]any{},
			code:   codes.InvalidArgument,
		},
		{
			name:   "malformed token",
			method: MethodProvideConsent,
			in:     map[string]any{"challenge_token": "not-a-number"},
			code:   codes.InvalidArgument,
		},
		{
			name:   "no challenge",
			method: MethodProvideConsent,
			in:     map[string]any{"challenge_token": "12345"},
			code:   codes.NotFound,
			kind:   interlock.KindNoActiveChallenge,
		},
		{
			name: "wrong token",
			setup: func(t *testing.T, h *harness) {
				h.mustInvoke(t, MethodRequestHighTorque, map[string]any{"device_id": "wheel-1"})
			},
			method: MethodProvideConsent,
			in:     map[string]any{"challenge_token": "1"},
			code:   codes.PermissionDenied,
			kind:   interlock.KindInvalidToken,
		},
		{
			name: "already active",
			setup: func(t *testing.T, h *harness) {
				h.mustInvoke(t, MethodRequestHighTorque, map[string]any{"device_id": "wheel-1"})
			},
			method: MethodRequestHighTorque,
			in:     map[string]any{"device_id": "wheel-2"},
			code:   codes.AlreadyExists,
			kind:   interlock.KindAlreadyActive,
		},
		{
			name:   "clear without fault",
			method: MethodClearFault,
			code:   codes.NotFound,
			kind:   interlock.KindNoActiveFault,
		},
		{
			name: "clear too soon",
			setup: func(t *testing.T, h *harness) {
				h.mustInvoke(t, MethodReportFault, map[string]any{"fault": "overcurrent"})
			},
			method: MethodClearFault,
			code:   codes.FailedPrecondition,
			kind:   interlock.KindFaultClearedTooSoon,
		},
		{
			name:   "unknown fault",
			method: MethodReportFault,
			in:     map[string]any{"fault": "gremlins"},
			code:   codes.InvalidArgument,
		},
		{
			name:   "unknown combo",
			method: MethodConfirmHighTorque,
			in: map[string]any{
				"device_id": "wheel-1", "challenge_token": "1", "device_token": "2", "combo": "triple_axel",
			},
			code: codes.InvalidArgument,
		},
		{
			name:   "fault history disabled",
			method: MethodListFaults,
			code:   codes.Unavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := testServer(t)
			if tt.setup != nil {
				tt.setup(t, h)
			}
			_, err := h.invoke(t, tt.method, tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
			if tt.kind != "" {
				assert.Equal(t, tt.kind, interlock.KindOf(ErrorFromStatus(err)))
			}
		})
	}
}

func TestFaultAndClear(t *testing.T) {
	h := testServer(t)

	out := h.mustInvoke(t, MethodReportFault, map[string]any{"fault": "thermal_limit"})
	assert.Equal(t, "faulted", out["state"])
	assert.Equal(t, 0.0, out["limit_nm"])

	h.fc.Advance(150 * time.Millisecond)
	out = h.mustInvoke(t, MethodClearFault, nil)
	assert.Equal(t, "safe_torque", out["state"])

	st := h.mustInvoke(t, MethodStatus, nil)
	counts := st["fault_counts"].(map[string]any)
	assert.Equal(t, 1.0, counts["thermal_limit"])
}

func TestCancelChallenge(t *testing.T) {
	h := testServer(t)
	h.mustInvoke(t, MethodRequestHighTorque, map[string]any{"device_id": "wheel-1"})
	out := h.mustInvoke(t, MethodCancelChallenge, nil)
	assert.Equal(t, "safe_torque", out["state"])

	_, err := h.invoke(t, MethodCancelChallenge, nil)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestConsentRequirements(t *testing.T) {
	h := testServer(t)
	out := h.mustInvoke(t, MethodConsentRequirements, nil)
	assert.Equal(t, 25.0, out["max_torque_nm"])
	assert.Equal(t, true, out["requires_explicit_consent"])
	assert.Len(t, out["warnings"], 4)
	assert.Len(t, out["disclaimers"], 3)
}

func TestListFaults(t *testing.T) {
	ctx := context.Background()
	db, err := faultdb.Open(ctx, filepath.Join(t.TempDir(), "faults.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Record(ctx, faultdb.Record{At: epoch, DeviceID: "wheel-1", Fault: model.FaultOvercurrent, Critical: true})
	require.NoError(t, err)
	_, err = db.Record(ctx, faultdb.Record{At: epoch.Add(time.Second), DeviceID: "wheel-2", Fault: model.FaultPluginOverrun})
	require.NoError(t, err)

	h := testServer(t, WithFaultDB(db))

	out := h.mustInvoke(t, MethodListFaults, map[string]any{"limit": 10.0})
	faults := out["faults"].([]any)
	require.Len(t, faults, 2)
	assert.Equal(t, "plugin_overrun", faults[0].(map[string]any)["fault"])

	out = h.mustInvoke(t, MethodListFaults, map[string]any{"device_id": "wheel-1"})
	faults = out["faults"].([]any)
	require.Len(t, faults, 1)
	assert.Equal(t, true, faults[0].(map[string]any)["critical"])
}

func TestSetPolicyHash(t *testing.T) {
	h := testServer(t)
	h.srv.SetPolicyHash("sha256:new")
	out := h.mustInvoke(t, MethodStatus, nil)
	assert.Equal(t, "sha256:new", out["policy_hash"])
}

func TestErrorFromStatusPassesThroughPlainErrors(t *testing.T) {
	plain := status.Error(codes.Unavailable, "connection refused")
	assert.Equal(t, plain, ErrorFromStatus(plain))

	rebuilt := ErrorFromStatus(toStatus(interlock.ErrComboHeldTooShort))
	assert.ErrorIs(t, rebuilt, interlock.ErrComboHeldTooShort)
}

func TestCodeForCoversEveryKind(t *testing.T) {
	kinds := []interlock.Kind{
		interlock.KindInvalidToken, interlock.KindNoActiveChallenge, interlock.KindAlreadyActive,
		interlock.KindActiveFaults, interlock.KindTemperatureTooHigh, interlock.KindHandsOffTooLong,
		interlock.KindConsentMissing, interlock.KindComboHeldTooShort, interlock.KindFaultClearedTooSoon,
		interlock.KindNoActiveFault, interlock.KindHandsOffTimeoutExceeded, interlock.KindNotActive,
	}
	for _, k := range kinds {
		assert.NotEqual(t, codes.Internal, codeFor(k), k)
	}
}
