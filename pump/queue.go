//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package pump runs provider change notifications off the provider's
// callback thread. Each loaded provider owns one Queue; tasks enqueued on
// it are executed in order by a dedicated worker goroutine.
package pump

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const queueDepth = 64

// Queue is a per-provider task queue: producers are provider callback
// threads, the consumer is a single worker goroutine started at
// construction. Stop drains outstanding tasks and joins the worker.
type Queue struct {
	tasks  chan func()
	done   chan struct{}
	stop   sync.Once
	joined sync.WaitGroup
}

// NewQueue starts the worker and returns the queue.
func NewQueue() *Queue {
	q := &Queue{
		tasks: make(chan func(), queueDepth),
		done:  make(chan struct{}),
	}
	q.joined.Add(1)
	go q.worker()
	return q
}

// Enqueue schedules fn on the worker. Returns false once the queue is
// stopped.
func (q *Queue) Enqueue(fn func()) bool {
	select {
	case <-q.done:
		return false
	default:
	}
	select {
	case q.tasks <- fn:
		return true
	case <-q.done:
		return false
	}
}

// Stop drains the queue and joins the worker. Safe to call more than once.
func (q *Queue) Stop() {
	q.stop.Do(func() {
		close(q.done)
	})
	q.joined.Wait()
}

func (q *Queue) worker() {
	defer q.joined.Done()

	run := func(fn func()) {
		defer func() {
			if r := recover(); r != nil {
				logrus.Errorf("pump: task panic: %v", r)
			}
		}()
		fn()
	}

	for {
		select {
		case fn := <-q.tasks:
			run(fn)
		case <-q.done:
			for {
				select {
				case fn := <-q.tasks:
					run(fn)
				default:
					return
				}
			}
		}
	}
}
