// Copyright 2026 The Bastion Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDispatchIncrementsCounter(t *testing.T) {
	dispatchesTotal.Reset()

	RecordDispatch("pre_action", "allow", 50*time.Microsecond)
	RecordDispatch("pre_action", "block", 100*time.Microsecond)
	RecordDispatch("pre_action", "allow", 30*time.Microsecond)

	val := testutil.ToFloat64(dispatchesTotal.WithLabelValues("pre_action", "allow"))
	if val != 2 {
		t.Errorf("expected allow count 2, got %v", val)
	}

	val = testutil.ToFloat64(dispatchesTotal.WithLabelValues("pre_action", "block"))
	if val != 1 {
		t.Errorf("expected block count 1, got %v", val)
	}
}

func TestRecordHookFailure(t *testing.T) {
	hookFailuresTotal.Reset()

	RecordHookFailure("pre_action", "timeout")
	RecordHookFailure("pre_action", "timeout")
	RecordHookFailure("stop", "error")

	val := testutil.ToFloat64(hookFailuresTotal.WithLabelValues("pre_action", "timeout"))
	if val != 2 {
		t.Errorf("expected timeout count 2, got %v", val)
	}
}

func TestRecordRuleEvaluation(t *testing.T) {
	ruleEvaluationsTotal.Reset()

	RecordRuleEvaluation("block", 30*time.Microsecond)

	val := testutil.ToFloat64(ruleEvaluationsTotal.WithLabelValues("block"))
	if val != 1 {
		t.Errorf("expected block count 1, got %v", val)
	}
}

func TestRegistrationGauges(t *testing.T) {
	SetRegisteredHooks("pre_action", 4)
	if val := testutil.ToFloat64(registeredHooks.WithLabelValues("pre_action")); val != 4 {
		t.Errorf("expected 4 registered hooks, got %v", val)
	}

	SetRegisteredRules(7)
	if val := testutil.ToFloat64(registeredRules); val != 7 {
		t.Errorf("expected 7 registered rules, got %v", val)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	if Handler() == nil {
		t.Fatal("expected a non-nil metrics handler")
	}
}
