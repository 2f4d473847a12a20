/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package planner computes schedule timing from cron expressions.
package planner

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidCron marks a cron expression the planner cannot parse. Callers
// surface it as a user error rather than an internal one.
var ErrInvalidCron = errors.New("invalid cron expression")

// standardParser accepts classic 5-field expressions plus descriptors
// (@hourly, @every 5m). secondsParser accepts the 6-field form with a
// leading seconds field.
var (
	standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	secondsParser  = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// Parse compiles a cron expression into a schedule. 5-field expressions are
// the canonical form; 6-field expressions are treated as carrying a leading
// seconds field.
func Parse(expr string) (cron.Schedule, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidCron)
	}

	parser := standardParser
	if !strings.HasPrefix(trimmed, "@") && len(strings.Fields(trimmed)) == 6 {
		parser = secondsParser
	}

	sched, err := parser.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCron, trimmed, err)
	}
	return sched, nil
}

// Validate reports whether the expression parses.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// NextFire returns the first fire time strictly after the given instant.
// The same (expr, after) pair always yields the same result.
func NextFire(expr string, after time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
