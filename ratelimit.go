// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package swapvisor

import (
	"time"

	"github.com/sirupsen/logrus"
)

// rateLimiter bounds container restarts to limit per period.  Once the
// threshold is hit, no restart is allowed for another full period after
// the last one, halving the effective rate while the target misbehaves.
type rateLimiter struct {
	limit   int
	period  time.Duration
	starts  int
	times   []time.Time
	cooling bool
	logger  logrus.FieldLogger
	now     func() time.Time
}

func newRateLimiter(limit int, period time.Duration, logger logrus.FieldLogger) *rateLimiter {
	r := &rateLimiter{
		limit:  limit,
		period: period,
		logger: logger,
		now:    time.Now,
	}
	if limit > 0 {
		r.times = make([]time.Time, limit)
	}
	return r
}

// record notes a restart attempt.
func (r *rateLimiter) record() {
	if r.limit > 0 {
		r.times[r.starts%r.limit] = r.now()
	}
	r.starts++
}

func (r *rateLimiter) tooQuickly() error {
	if r.limit == 0 || r.starts < r.limit {
		return nil
	}
	now := r.now()

	// oldest of the last limit restarts
	oldest := r.times[r.starts%r.limit]
	if now.Before(oldest.Add(r.period)) {
		if !r.cooling {
			r.logger.Warnf("%d container restarts within %v, holding off",
				r.limit, r.period)
		}
		r.cooling = true
		return ErrRateLimited
	}
	if !r.cooling {
		return nil
	}

	// cooling down, wait a full period after the last restart
	last := r.times[(r.starts-1)%r.limit]
	if now.Before(last.Add(r.period)) {
		return ErrRateLimited
	}
	r.cooling = false
	r.logger.Info("Restart cool down expired")
	return nil
}
