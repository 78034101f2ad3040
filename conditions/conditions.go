// Package conditions holds the condition strategies registered at startup.
//
// LOGIN_DAYS and INVITE_FRIENDS are placeholders: they log the check and
// report the condition as satisfied. Real checks against user activity are
// out of scope; a deployment replaces them by registering its own
// engine.ConditionValidator under the same tag.
package conditions

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/reward-engine/engine"
)

// LoginDays checks that a user logged in on at least threshold days.
type LoginDays struct {
	Logger logrus.FieldLogger
}

func (v LoginDays) Validate(ctx context.Context, userID engine.ID, threshold decimal.Decimal) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	logger(v.Logger).WithFields(logrus.Fields{
		"condition": engine.ConditionLoginDays,
		"user_id":   userID,
		"required":  threshold.String(),
	}).Debug("checking login days")
	return true, nil
}

// InviteFriends checks that a user invited at least threshold friends.
type InviteFriends struct {
	Logger logrus.FieldLogger
}

func (v InviteFriends) Validate(ctx context.Context, userID engine.ID, threshold decimal.Decimal) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	logger(v.Logger).WithFields(logrus.Fields{
		"condition": engine.ConditionInviteFriends,
		"user_id":   userID,
		"required":  threshold.String(),
	}).Debug("checking invited friends")
	return true, nil
}

// DefaultRegistry returns a registry seeded with every built-in strategy.
func DefaultRegistry(log logrus.FieldLogger) *engine.Registry {
	r := engine.NewRegistry()
	r.Register(engine.ConditionLoginDays, LoginDays{Logger: log})
	r.Register(engine.ConditionInviteFriends, InviteFriends{Logger: log})
	return r
}

func logger(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}
