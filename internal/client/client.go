// Package client is the operator-side gRPC client for a running wheelguard
// daemon.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/wheelguard/internal/faultdb"
	"github.com/ppiankov/wheelguard/internal/interlock"
	"github.com/ppiankov/wheelguard/internal/model"
	"github.com/ppiankov/wheelguard/internal/server"
)

// DefaultTimeout bounds every call.
const DefaultTimeout = 5 * time.Second

// Client connects to a wheelguard operator API.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// New creates a client for addr. The connection is established lazily.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to wheelguard daemon: %w", err)
	}
	return &Client{conn: conn, timeout: DefaultTimeout}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// StateReply is returned by every state-changing call.
type StateReply struct {
	State   interlock.StateKind `json:"state"`
	Detail  string              `json:"detail"`
	LimitNm model.TorqueNm      `json:"limit_nm"`
}

// ChallengeInfo describes a pending challenge in Status.
type ChallengeInfo struct {
	Token        uint64    `json:"token,string"`
	DeviceID     string    `json:"device_id"`
	ConsentGiven bool      `json:"consent_given"`
	ComboStarted bool      `json:"combo_started"`
	ExpiresAt    time.Time `json:"expires_at"`
	RemainingMs  int64     `json:"remaining_ms"`
}

// TokenInfo is one live device authorization.
type TokenInfo struct {
	Token       uint64    `json:"token,string"`
	ActivatedAt time.Time `json:"activated_at"`
}

// Status is the daemon's view of the interlock.
type Status struct {
	StateReply
	SafeNm        model.TorqueNm       `json:"safe_nm"`
	HighNm        model.TorqueNm       `json:"high_nm"`
	PolicyHash    string               `json:"policy_hash"`
	DroppedEvents uint64               `json:"dropped_events"`
	Challenge     *ChallengeInfo       `json:"challenge,omitempty"`
	Tokens        map[string]TokenInfo `json:"tokens"`
	FaultCounts   map[string]int       `json:"fault_counts"`
}

// Challenge is the reply to RequestHighTorque.
type Challenge struct {
	Token         uint64    `json:"challenge_token,string"`
	DeviceID      string    `json:"device_id"`
	ComboRequired string    `json:"combo_required"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func (c *Client) call(method string, in map[string]any, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := structpb.NewStruct(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, server.FullMethod(method), req, resp); err != nil {
		return server.ErrorFromStatus(err)
	}
	if out == nil {
		return nil
	}

	data, err := protojson.Marshal(resp)
	if err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", method, err)
	}
	return nil
}

func (c *Client) stateCall(method string, in map[string]any) (StateReply, error) {
	var r StateReply
	err := c.call(method, in, &r)
	return r, err
}

// Status returns the current interlock status.
func (c *Client) Status() (Status, error) {
	var s Status
	err := c.call(server.MethodStatus, map[string]any{}, &s)
	return s, err
}

// RequestHighTorque asks for a high-torque challenge for deviceID.
func (c *Client) RequestHighTorque(deviceID string) (Challenge, error) {
	var ch Challenge
	err := c.call(server.MethodRequestHighTorque, map[string]any{"device_id": deviceID}, &ch)
	return ch, err
}

// ProvideConsent gives operator consent for the challenge.
func (c *Client) ProvideConsent(token uint64) (StateReply, error) {
	return c.stateCall(server.MethodProvideConsent, map[string]any{"challenge_token": formatToken(token)})
}

// ReportComboStart reports that the physical combo began.
func (c *Client) ReportComboStart(token uint64) (StateReply, error) {
	return c.stateCall(server.MethodReportComboStart, map[string]any{"challenge_token": formatToken(token)})
}

// ConfirmHighTorque completes the challenge for deviceID.
func (c *Client) ConfirmHighTorque(deviceID string, ack model.InterlockAck) (StateReply, error) {
	in := map[string]any{
		"device_id":       deviceID,
		"challenge_token": formatToken(ack.ChallengeToken),
		"device_token":    formatToken(ack.DeviceToken),
		"combo":           string(ack.ComboCompleted.Kind),
	}
	if ack.ComboCompleted.Kind == model.ComboCustomSequence {
		in["sequence"] = float64(ack.ComboCompleted.Sequence)
	}
	return c.stateCall(server.MethodConfirmHighTorque, in)
}

// CancelChallenge abandons the pending challenge.
func (c *Client) CancelChallenge() (StateReply, error) {
	return c.stateCall(server.MethodCancelChallenge, map[string]any{})
}

// DisableHighTorque revokes deviceID's authorization.
func (c *Client) DisableHighTorque(deviceID string) (StateReply, error) {
	return c.stateCall(server.MethodDisableHighTorque, map[string]any{"device_id": deviceID})
}

// ReportFault faults the interlock. An empty deviceID applies to all devices.
func (c *Client) ReportFault(fault model.FaultType, deviceID string) (StateReply, error) {
	in := map[string]any{"fault": string(fault)}
	if deviceID != "" {
		in["device_id"] = deviceID
	}
	return c.stateCall(server.MethodReportFault, in)
}

// ClearFault attempts to leave Faulted.
func (c *Client) ClearFault() (StateReply, error) {
	return c.stateCall(server.MethodClearFault, map[string]any{})
}

// ConsentRequirements returns the consent text.
func (c *Client) ConsentRequirements() (interlock.ConsentInfo, error) {
	var info interlock.ConsentInfo
	err := c.call(server.MethodConsentRequirements, map[string]any{}, &info)
	return info, err
}

// ListFaults returns stored fault history, newest first.
func (c *Client) ListFaults(deviceID string, limit int) ([]faultdb.Record, error) {
	in := map[string]any{"limit": float64(limit)}
	if deviceID != "" {
		in["device_id"] = deviceID
	}
	var out struct {
		Faults []faultdb.Record `json:"faults"`
	}
	err := c.call(server.MethodListFaults, in, &out)
	return out.Faults, err
}

func formatToken(t uint64) string {
	return strconv.FormatUint(t, 10)
}
