/* Copyright 2026 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package slogx

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	if a := Error(errors.New("doh")); a.Key != "error" || a.Value.String() != "doh" {
		t.Fatal(a)
	}
	if a := Error(nil); a.Value.String() != "" {
		t.Fatal(a)
	}
}
