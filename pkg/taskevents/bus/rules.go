package bus

import (
	"context"
	"fmt"

	"github.com/tonyblank/claude-task-master-linear-sub002/pkg/taskevents/observability"
)

// RuleCondition decides whether a routing rule applies to a message.
type RuleCondition func(msg *Message) bool

// RuleAction reacts to a matching message. It runs before subscriber
// fan-out and must not assume any subscriber has seen the message.
type RuleAction func(ctx context.Context, msg *Message) error

type routingRule struct {
	name      string
	condition RuleCondition
	action    RuleAction
}

// AddRoutingRule registers a named rule evaluated against every published
// message, replacing any rule with the same name. Rules run in registration
// order; each is caught independently so one failing rule cannot block the
// others or the publish itself.
func (b *Bus) AddRoutingRule(name string, condition RuleCondition, action RuleAction) {
	rule := &routingRule{name: name, condition: condition, action: action}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.rules {
		if r.name == name {
			b.rules[i] = rule
			return
		}
	}
	b.rules = append(b.rules, rule)
}

// RemoveRoutingRule removes a named rule. Returns false if absent.
func (b *Bus) RemoveRoutingRule(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.rules {
		if r.name == name {
			b.rules = append(b.rules[:i], b.rules[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Bus) runRules(ctx context.Context, rules []*routingRule, msg *Message) {
	for _, rule := range rules {
		if err := b.runRule(ctx, rule, msg); err != nil {
			observability.LogRoutingRuleError(b.cfg.Logger, rule.name, err)
		}
	}
}

func (b *Bus) runRule(ctx context.Context, rule *routingRule, msg *Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("routing rule panic: %v", r)
		}
	}()

	if rule.condition != nil && !rule.condition(msg) {
		return nil
	}
	if rule.action == nil {
		return nil
	}
	return rule.action(ctx, msg)
}
