// Package codec is the gRPC client for an out-of-process level-0 policy.
// Messages are google.protobuf.Struct values so the server side needs no
// generated code from this module.
package codec

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/abstract-rmax/internal/abstract"
	"github.com/danielpatrickdp/abstract-rmax/internal/learner"
)

// Full method names served by the policy process.
const (
	MethodAct     = "/abstractrmax.l0.Policy/Act"
	MethodObserve = "/abstractrmax.l0.Policy/Observe"
	MethodTrain   = "/abstractrmax.l0.Policy/Train"
)

// #region client-struct
// invoker is the part of *grpc.ClientConn the client needs.
type invoker interface {
	Invoke(ctx context.Context, method string, args any, reply any, opts ...grpc.CallOption) error
}

// PolicyClient implements executor.Policy by forwarding to a remote learner.
// Transitions are buffered per option and shipped when the path ends.
type PolicyClient struct {
	conn     *grpc.ClientConn
	inv      invoker
	pending  map[string][]*structpb.Value
	samples  map[string]int
	lastLoss float64
}
// #endregion client-struct

// #region constructor
// NewPolicyClient connects to the policy gRPC server.
func NewPolicyClient(addr string) (*PolicyClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	c := newPolicyClient(conn)
	c.conn = conn
	return c, nil
}

func newPolicyClient(inv invoker) *PolicyClient {
	return &PolicyClient{
		inv:     inv,
		pending: make(map[string][]*structpb.Value),
		samples: make(map[string]int),
	}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *PolicyClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
// #endregion close

// #region act
// Act asks the remote policy for a primitive action.
func (c *PolicyClient) Act(ctx context.Context, obs []float32, a abstract.Action) (int, error) {
	req := &structpb.Struct{Fields: optionFields(a)}
	req.Fields["observation"] = float32List(obs)

	resp := &structpb.Struct{}
	if err := c.inv.Invoke(ctx, MethodAct, req, resp); err != nil {
		return 0, fmt.Errorf("act rpc: %w", err)
	}
	v, ok := resp.Fields["action"]
	if !ok {
		return 0, fmt.Errorf("act rpc: response has no action")
	}
	return int(v.GetNumberValue()), nil
}
// #endregion act

// #region observe
// Observe buffers one transition for a.
func (c *PolicyClient) Observe(a abstract.Action, step learner.Step, reward float64, terminal bool) error {
	key := a.OptionKey()
	c.pending[key] = append(c.pending[key], structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"state":    float32List(step.State),
		"action":   structpb.NewNumberValue(float64(step.Action)),
		"reward":   structpb.NewNumberValue(reward),
		"next":     float32List(step.Next),
		"terminal": structpb.NewBoolValue(terminal),
	}}))
	c.samples[key]++
	return nil
}

// EndPath ships the buffered path of a to the remote memory. The last
// transition goes out terminal: a path cut by the step cap is still a
// boundary in the remote memory.
func (c *PolicyClient) EndPath(ctx context.Context, a abstract.Action) error {
	key := a.OptionKey()
	path := c.pending[key]
	if len(path) == 0 {
		return nil
	}
	path[len(path)-1].GetStructValue().Fields["terminal"] = structpb.NewBoolValue(true)
	req := &structpb.Struct{Fields: optionFields(a)}
	req.Fields["transitions"] = structpb.NewListValue(&structpb.ListValue{Values: path})

	resp := &structpb.Struct{}
	if err := c.inv.Invoke(ctx, MethodObserve, req, resp); err != nil {
		return fmt.Errorf("observe rpc: %w", err)
	}
	delete(c.pending, key)
	if v, ok := resp.Fields["stored"]; ok {
		c.samples[key] = int(v.GetNumberValue())
	}
	return nil
}
// #endregion observe

// #region train
// Train asks the remote learner to run one update for a.
func (c *PolicyClient) Train(ctx context.Context, a abstract.Action) error {
	resp := &structpb.Struct{}
	if err := c.inv.Invoke(ctx, MethodTrain, &structpb.Struct{Fields: optionFields(a)}, resp); err != nil {
		return fmt.Errorf("train rpc: %w", err)
	}
	c.lastLoss = resp.Fields["loss"].GetNumberValue()
	return nil
}

// Samples returns the transitions stored for a, as last reported by the
// server plus any still buffered locally.
func (c *PolicyClient) Samples(a abstract.Action) int {
	return c.samples[a.OptionKey()]
}

// LastLoss returns the loss reported by the most recent Train call.
func (c *PolicyClient) LastLoss() float64 {
	return c.lastLoss
}
// #endregion train

// #region encoding
func optionFields(a abstract.Action) map[string]*structpb.Value {
	return map[string]*structpb.Value{
		"option":  structpb.NewStringValue(a.OptionKey()),
		"initial": float64List(a.InitialVec),
		"goal":    float64List(a.GoalVec),
	}
}

func float32List(xs []float32) *structpb.Value {
	vals := make([]*structpb.Value, len(xs))
	for i, x := range xs {
		vals[i] = structpb.NewNumberValue(float64(x))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func float64List(xs []float64) *structpb.Value {
	vals := make([]*structpb.Value, len(xs))
	for i, x := range xs {
		vals[i] = structpb.NewNumberValue(x)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}
// #endregion encoding
