// Copyright 2022 Sylvain Müller. All rights reserved.
// Mount of this source code is governed by a Apache-2.0 license that can be found
// at https://github.com/tigerwill90/fox/blob/master/LICENSE.txt.

package khepri

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/kvtree/khepri/internal/slogpretty"
)

// Keys for the structured log attributes Apply emits, mirroring the
// teacher's LoggerRouteKey/LoggerPanicKey convention (logger.go, recovery.go).
const (
	LoggerCommandKey = "command"
	LoggerSeqKey     = "seq"
	LoggerPanicKey   = "panic"
)

// Machine is the replicated state machine: a copy-on-write tree plus its
// keep-while table, mutated only through Apply (spec.md §4.6). All of
// Machine's exported behavior is deterministic given the same sequence of
// commands, so that every replica applying the same log ends up bit-for-bit
// identical (spec.md §1, §5).
type Machine struct {
	tree      *Tree
	keepWhile atomic.Pointer[KeepWhileTable]
	seq       atomic.Uint64

	logger               *slog.Logger
	defaultMaxResultSize int
	maxCascadeOverride   int
}

// Option configures a Machine at construction time, the teacher's
// functional-option idiom (options.go).
type Option func(*Machine)

// WithLogger overrides the slog handler Apply logs through. By default,
// Machine logs through the teacher's pretty development handler
// (internal/slogpretty).
func WithLogger(handler slog.Handler) Option {
	return func(m *Machine) { m.logger = slog.New(handler) }
}

// WithDefaultMaxResultSize overrides the result-map size cap that View
// handles (Machine.View) apply to Get and FindMatching calls made without
// their own WithMaxResultSize (spec.md §5). It does not reach the
// FindMatching pre-pass of put/delete or Apply(GetCommand), which use the
// matcher's built-in default or the GetCommand's own options.
func WithDefaultMaxResultSize(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.defaultMaxResultSize = n
		}
	}
}

// WithMaxCascadeIterations overrides the per-command keep-while cascade cap
// that otherwise defaults to the keep-while table's current size plus one
// (spec.md §5: "implementation-defined, at least the number of keep-while
// entries currently registered").
func WithMaxCascadeIterations(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxCascadeOverride = n
		}
	}
}

// New returns an initialized Machine: an empty tree with just a root node
// and no keep-while entries (spec.md §4.6: "init(config) returns an empty
// state").
func New(opts ...Option) *Machine {
	m := &Machine{
		tree:                 NewTree(),
		logger:               slog.New(slogpretty.DefaultHandler),
		defaultMaxResultSize: defaultMaxResultSize,
	}
	m.keepWhile.Store(NewKeepWhileTable())
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// View returns a read-only handle over the machine's current state,
// unaffected by any write that starts after it is taken (spec.md §4.6, §5).
func (m *Machine) View() *View {
	return &View{root: m.tree.Root(), maxResultSize: m.defaultMaxResultSize}
}

// Apply runs cmd to completion: a get reads the current state; a put or
// delete mutates it (including its keep-while cascade) and, on success,
// commits the result so the next Apply or View observes it (spec.md §4.4,
// §4.6). Apply recovers from any panic raised while running cmd, reporting
// it as a resource_limit error rather than crashing the process, the same
// contract the teacher's Recovery middleware provides for a panicking
// handler (recovery.go).
func (m *Machine) Apply(cmd Command) (reply *Reply, err error) {
	defer m.recoverPanic(cmd, &err)

	switch c := cmd.(type) {
	case GetCommand:
		reply, err = applyGet(m.tree.Root(), c)
	case PutCommand:
		reply, err = m.applyMutating(func(st *execState) (*Reply, error) { return st.applyPut(c) })
	case DeleteCommand:
		reply, err = m.applyMutating(func(st *execState) (*Reply, error) { return st.applyDelete(c) })
	default:
		err = kindError(KindInvalidPattern, "unknown command type %T", cmd)
	}

	if err != nil {
		m.logger.Error("command failed", slog.String(LoggerCommandKey, commandName(cmd)), slog.Any("error", err))
	} else {
		m.logger.Debug("command applied", slog.String(LoggerCommandKey, commandName(cmd)), slog.Uint64(LoggerSeqKey, m.seq.Load()))
	}
	return reply, err
}

// applyMutating runs run against a scratch execState built from the
// machine's currently committed root and keep-while table, under the
// tree's single-writer guard, committing both only if run succeeds
// (spec.md §5: "a failed command must leave the state exactly as it was").
func (m *Machine) applyMutating(run func(st *execState) (*Reply, error)) (*Reply, error) {
	var reply *Reply
	err := m.tree.withWriteGuardErr(func(root *Node) (*Node, error) {
		table := m.keepWhile.Load()
		seq := m.seq.Add(1)
		st := newExecState(root, table, seq, m.cascadeCap(table.Len()))

		r, err := run(st)
		if err != nil {
			return nil, err
		}
		reply = r
		m.keepWhile.Store(st.table)
		return st.root, nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (m *Machine) cascadeCap(tableLen int) int {
	if m.maxCascadeOverride > 0 {
		return m.maxCascadeOverride
	}
	return tableLen + 1
}

func commandName(cmd Command) string {
	switch cmd.(type) {
	case PutCommand:
		return "put"
	case DeleteCommand:
		return "delete"
	case GetCommand:
		return "get"
	default:
		return fmt.Sprintf("%T", cmd)
	}
}

// recoverPanic converts a panic raised while running cmd into a
// resource_limit *PathError, logging the stack the way the teacher's
// recovery() does (recovery.go), minus anything HTTP-specific.
func (m *Machine) recoverPanic(cmd Command, err *error) {
	r := recover()
	if r == nil {
		return
	}
	*err = kindError(KindResourceLimit, "recovered from panic running %s: %v", commandName(cmd), r)
	m.logger.Log(context.Background(), slog.LevelError, "recovered from panic",
		slog.String(LoggerCommandKey, commandName(cmd)),
		slog.Any(LoggerPanicKey, r),
		slog.String("stack", stacktrace(3, 6)),
	)
}

func stacktrace(skip, nFrames int) string {
	pcs := make([]uintptr, nFrames+1)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return "(no stack)"
	}
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	i := 0
	for {
		frame, more := frames.Next()
		if i > 0 {
			b.WriteByte('\n')
		}
		_, _ = fmt.Fprintf(&b, "called from %s %s:%d", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
		i++
		if i >= nFrames {
			b.WriteString("\n(rest of stack elided)")
			break
		}
	}
	return b.String()
}
