package statemachine

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransitionRejected 表示 (状态, 事件) 组合不在迁移表中。
// 被拒绝的迁移不会执行任何回调，调用方状态保持不变。
var ErrTransitionRejected = errors.New("transition rejected")

// Action 是在一次被接受的迁移上执行的回调。
// 回调由调用方注入，引擎本身不关心回调做什么（持久化、发消息等）。
type Action[S, E comparable] func(ctx context.Context, from S, event E, to S) error

type transition[S, E comparable] struct {
	to      S
	actions []Action[S, E]
}

// Machine 是一个确定性的有限状态机：迁移表 + 回调钩子。
// 它不持有任何跨调用的可变状态，可以被并发使用，也可以按调用重建。
type Machine[S, E comparable] struct {
	table       map[S]map[E]transition[S, E]
	interceptor Action[S, E]
}

func New[S, E comparable]() *Machine[S, E] {
	return &Machine[S, E]{table: make(map[S]map[E]transition[S, E])}
}

// Permit 在迁移表中登记一条 (from, event) -> to 的迁移，
// 以及该迁移专属的副作用回调（在拦截器之后按注册顺序执行）。
func (m *Machine[S, E]) Permit(from S, event E, to S, actions ...Action[S, E]) *Machine[S, E] {
	if m.table[from] == nil {
		m.table[from] = make(map[E]transition[S, E])
	}
	m.table[from][event] = transition[S, E]{to: to, actions: actions}
	return m
}

// OnTransition 设置在每次被接受的迁移上最先执行的拦截器。
// 调用方用它挂接持久化：拦截器失败时，该迁移的副作用回调不会执行。
func (m *Machine[S, E]) OnTransition(hook Action[S, E]) *Machine[S, E] {
	m.interceptor = hook
	return m
}

// CanFire 报告 (from, event) 是否是一条已定义的迁移。
func (m *Machine[S, E]) CanFire(from S, event E) bool {
	_, ok := m.table[from][event]
	return ok
}

// Fire 对 from 状态应用 event。
// 迁移未定义时返回 ErrTransitionRejected（包装后带有状态与事件信息），
// 且不执行任何回调。迁移被接受时依次执行拦截器和副作用回调；
// 拦截器失败会中止副作用并返回原状态，副作用失败时新状态连同错误一起返回，
// 由调用方决定如何处置（此时状态通常已经持久化）。
func (m *Machine[S, E]) Fire(ctx context.Context, from S, event E) (S, error) {
	tr, ok := m.table[from][event]
	if !ok {
		return from, fmt.Errorf("%w: no transition from state %v on event %v", ErrTransitionRejected, from, event)
	}

	if m.interceptor != nil {
		if err := m.interceptor(ctx, from, event, tr.to); err != nil {
			return from, err
		}
	}

	for _, action := range tr.actions {
		if err := action(ctx, from, event, tr.to); err != nil {
			return tr.to, err
		}
	}
	return tr.to, nil
}
