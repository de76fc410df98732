// File: fake/engine.go
// Author: momentics <momentics@gmail.com>
//
// Reference LwM2M server engine. It implements the registration interface only
// (register, update, deregister on /rd) which is enough to drive outbound sends
// and monitoring callbacks the way a native engine does.

package fake

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/momentics/lwm2mux/api"
)

const defaultLifetime = 86400

// Client is a registered LwM2M client as seen by one engine context.
type Client struct {
	ID       uint16
	Endpoint string
	Lifetime int
	Version  string
	Binding  string
	Objects  []string
}

type engineContext struct {
	mu          sync.Mutex
	userData    any
	clients     map[uint16]*Client
	nextID      uint16
	nextMID     uint16
	monitor     api.MonitoringCallback
	monitorData any
}

// Engine is an api.Engine that keeps every context in Go memory.
type Engine struct {
	hooks api.Hooks

	mu       sync.Mutex
	contexts map[*engineContext]struct{}

	initErr   error
	nilHandle bool
	firstID   uint16
	packets   atomic.Int64
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithInitError makes Init fail with err.
func WithInitError(err error) EngineOption {
	return func(e *Engine) { e.initErr = err }
}

// WithNilHandle makes Init return a nil handle without an error.
func WithNilHandle() EngineOption {
	return func(e *Engine) { e.nilHandle = true }
}

// WithFirstClientID sets the id assigned to the first client of each context.
// A uint16 passed as Init userData overrides it per context.
func WithFirstClientID(id uint16) EngineOption {
	return func(e *Engine) { e.firstID = id }
}

// NewEngine creates an engine that transmits through hooks.
func NewEngine(hooks api.Hooks, opts ...EngineOption) *Engine {
	e := &Engine{
		hooks:    hooks,
		contexts: make(map[*engineContext]struct{}),
		firstID:  1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ api.Engine = (*Engine)(nil)

// Init implements api.Engine.
func (e *Engine) Init(userData any) (api.Handle, error) {
	if e.initErr != nil {
		return nil, e.initErr
	}
	if e.nilHandle {
		return nil, nil
	}
	ctx := &engineContext{
		userData: userData,
		clients:  make(map[uint16]*Client),
		nextID:   e.firstID,
		nextMID:  1,
	}
	if id, ok := userData.(uint16); ok {
		ctx.nextID = id
	}
	e.mu.Lock()
	e.contexts[ctx] = struct{}{}
	e.mu.Unlock()
	return api.Handle(unsafe.Pointer(ctx)), nil
}

// lookup maps a handle back to a live context, or nil.
func (e *Engine) lookup(h api.Handle) *engineContext {
	ctx := (*engineContext)(unsafe.Pointer(h))
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.contexts[ctx]; !ok {
		return nil
	}
	return ctx
}

// Close implements api.Engine.
func (e *Engine) Close(h api.Handle) {
	e.mu.Lock()
	delete(e.contexts, (*engineContext)(unsafe.Pointer(h)))
	e.mu.Unlock()
}

// Live returns the number of open contexts.
func (e *Engine) Live() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.contexts)
}

// Packets returns the number of packets handled by all contexts.
func (e *Engine) Packets() int64 { return e.packets.Load() }

// SetMonitoringCallback implements api.Engine.
func (e *Engine) SetMonitoringCallback(h api.Handle, cb api.MonitoringCallback, userData any) {
	ctx := e.lookup(h)
	if ctx == nil {
		return
	}
	ctx.mu.Lock()
	ctx.monitor = cb
	ctx.monitorData = userData
	ctx.mu.Unlock()
}

// Clients returns the registered clients of h ordered by id.
func (e *Engine) Clients(h api.Handle) []Client {
	ctx := e.lookup(h)
	if ctx == nil {
		return nil
	}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	out := make([]Client, 0, len(ctx.clients))
	for _, c := range ctx.clients {
		cp := *c
		cp.Objects = append([]string(nil), c.Objects...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// outcome is what a request produced: a response and maybe a notification.
type outcome struct {
	code     api.Status
	location []string
	notify   bool
	clientID uint16
}

// HandlePacket implements api.Engine.
func (e *Engine) HandlePacket(h api.Handle, packet []byte, session api.Session) {
	ctx := e.lookup(h)
	if ctx == nil {
		return
	}
	e.packets.Add(1)

	msg, err := ParseMessage(packet)
	if err != nil {
		// answer only when the header itself was readable
		if len(packet) >= 4 && packet[0]>>6 == coapVersion && MessageType(packet[0]>>4&0x3) == Confirmable {
			e.respond(ctx, session, &Message{Type: Confirmable, MessageID: uint16(packet[2])<<8 | uint16(packet[3])},
				outcome{code: api.StatusBadRequest})
		}
		return
	}
	if msg.Type != Confirmable && msg.Type != NonConfirmable {
		return
	}
	if msg.Code == 0 || msg.Code.Class() != 0 {
		// empty message or a response; nothing to serve
		return
	}

	ctx.mu.Lock()
	out := ctx.route(msg)
	monitor, monitorData := ctx.monitor, ctx.monitorData
	ctx.mu.Unlock()

	e.respond(ctx, session, msg, out)

	if out.notify && monitor != nil {
		monitor(h, out.clientID, nil, int(out.code), nil, 0, nil, monitorData)
	}
}

func (e *Engine) respond(ctx *engineContext, session api.Session, req *Message, out outcome) {
	if e.hooks.Send == nil {
		return
	}
	resp := &Message{
		Type:      Acknowledgement,
		Code:      out.code,
		MessageID: req.MessageID,
		Token:     req.Token,
	}
	if req.Type == NonConfirmable {
		resp.Type = NonConfirmable
		ctx.mu.Lock()
		resp.MessageID = ctx.nextMID
		ctx.nextMID++
		ctx.mu.Unlock()
	}
	for _, seg := range out.location {
		resp.AddOption(OptionLocationPath, []byte(seg))
	}
	b, err := resp.Marshal()
	if err != nil {
		return
	}
	e.hooks.Send(session, b, ctx.userData)
}

// route serves one request. Caller holds ctx.mu.
func (ctx *engineContext) route(msg *Message) outcome {
	path := msg.Path()
	if len(path) == 0 || path[0] != "rd" {
		return outcome{code: api.StatusNotFound}
	}
	switch {
	case len(path) == 1 && msg.Code == MethodPost:
		return ctx.register(msg)
	case len(path) == 2 && msg.Code == MethodPost:
		return ctx.update(path[1], msg)
	case len(path) == 2 && msg.Code == MethodDelete:
		return ctx.deregister(path[1])
	case len(path) <= 2:
		return outcome{code: api.StatusMethodNotAllowed}
	default:
		return outcome{code: api.StatusNotFound}
	}
}

func (ctx *engineContext) register(msg *Message) outcome {
	q := msg.Query()
	ep := q["ep"]
	if ep == "" {
		return outcome{code: api.StatusBadRequest}
	}
	lifetime := defaultLifetime
	if lt, ok := q["lt"]; ok {
		v, err := strconv.Atoi(lt)
		if err != nil || v <= 0 {
			return outcome{code: api.StatusBadRequest}
		}
		lifetime = v
	}

	c := ctx.byEndpoint(ep)
	if c == nil {
		c = &Client{ID: ctx.allocID(), Endpoint: ep}
		ctx.clients[c.ID] = c
	}
	c.Lifetime = lifetime
	c.Version = q["lwm2m"]
	c.Binding = q["b"]
	if c.Binding == "" {
		c.Binding = "U"
	}
	c.Objects = parseLinks(msg.Payload)

	return outcome{
		code:     api.StatusCreated,
		location: []string{"rd", strconv.Itoa(int(c.ID))},
		notify:   true,
		clientID: c.ID,
	}
}

func (ctx *engineContext) update(loc string, msg *Message) outcome {
	c := ctx.byLocation(loc)
	if c == nil {
		return outcome{code: api.StatusNotFound}
	}
	q := msg.Query()
	if lt, ok := q["lt"]; ok {
		v, err := strconv.Atoi(lt)
		if err != nil || v <= 0 {
			return outcome{code: api.StatusBadRequest}
		}
		c.Lifetime = v
	}
	if b, ok := q["b"]; ok {
		c.Binding = b
	}
	if len(msg.Payload) > 0 {
		c.Objects = parseLinks(msg.Payload)
	}
	return outcome{code: api.StatusChanged, notify: true, clientID: c.ID}
}

func (ctx *engineContext) deregister(loc string) outcome {
	c := ctx.byLocation(loc)
	if c == nil {
		return outcome{code: api.StatusNotFound}
	}
	delete(ctx.clients, c.ID)
	return outcome{code: api.StatusDeleted, notify: true, clientID: c.ID}
}

func (ctx *engineContext) byEndpoint(ep string) *Client {
	for _, c := range ctx.clients {
		if c.Endpoint == ep {
			return c
		}
	}
	return nil
}

func (ctx *engineContext) byLocation(loc string) *Client {
	id, err := strconv.ParseUint(loc, 10, 16)
	if err != nil {
		return nil
	}
	return ctx.clients[uint16(id)]
}

func (ctx *engineContext) allocID() uint16 {
	for {
		id := ctx.nextID
		ctx.nextID++
		if _, used := ctx.clients[id]; !used {
			return id
		}
	}
}

// parseLinks extracts the target paths of a CoRE link-format payload.
func parseLinks(payload []byte) []string {
	var out []string
	for _, link := range strings.Split(string(payload), ",") {
		target, _, _ := strings.Cut(strings.TrimSpace(link), ";")
		target = strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")
		if target != "" {
			out = append(out, target)
		}
	}
	return out
}

// RegistrationRequest builds a confirmable POST /rd for endpoint with the
// object links an LwM2M 1.1 client typically announces.
func RegistrationRequest(endpoint string, mid uint16) []byte {
	m := &Message{
		Type:      Confirmable,
		Code:      MethodPost,
		MessageID: mid,
		Token:     []byte{byte(mid >> 8), byte(mid)},
		Payload:   []byte("</1/1>,</2/1>,</3/0>"),
	}
	m.SetPath("/rd")
	m.AddQuery("ep=" + endpoint)
	m.AddQuery("lt=43200")
	m.AddQuery("lwm2m=1.1")
	m.AddQuery("b=U")
	m.AddOption(OptionContentFormat, []byte{byte(MediaLinkFormat)})
	return mustMarshal(m)
}

// UpdateRequest builds a confirmable POST /rd/{clientID}.
func UpdateRequest(clientID uint16, mid uint16) []byte {
	m := &Message{Type: Confirmable, Code: MethodPost, MessageID: mid, Token: []byte{byte(mid)}}
	m.SetPath(fmt.Sprintf("/rd/%d", clientID))
	return mustMarshal(m)
}

// DeregistrationRequest builds a confirmable DELETE /rd/{clientID}.
func DeregistrationRequest(clientID uint16, mid uint16) []byte {
	m := &Message{Type: Confirmable, Code: MethodDelete, MessageID: mid, Token: []byte{byte(mid)}}
	m.SetPath(fmt.Sprintf("/rd/%d", clientID))
	return mustMarshal(m)
}

func mustMarshal(m *Message) []byte {
	b, err := m.Marshal()
	if err != nil {
		panic(err)
	}
	return b
}
