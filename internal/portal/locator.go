// Copyright (c) 2026 Dor Amit
//
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

package portal

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// SelectorError is returned when every candidate in a fallback chain
// failed to resolve. Terminal for the session that hit it.
type SelectorError struct {
	Purpose string
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("no %s element resolved on the page", e.Purpose)
}

// candidate is one way of locating an element, with its own bounded wait.
type candidate struct {
	selector string
	timeout  time.Duration
}

// chain is an ordered list of candidates, most specific first.
type chain []candidate

// resolve tries each candidate in order and returns the selector of the
// first that becomes visible. A candidate timing out is expected markup
// drift and is absorbed; an exhausted chain is a SelectorError.
func resolve(ctx context.Context, b Browser, purpose string, c chain) (string, error) {
	for _, cand := range c {
		if err := b.WaitVisible(ctx, cand.selector, cand.timeout); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			slog.Debug("selector candidate missed",
				"purpose", purpose,
				"selector", cand.selector,
			)
			continue
		}
		slog.Info("selector resolved", "purpose", purpose, "selector", cand.selector)
		return cand.selector, nil
	}
	return "", &SelectorError{Purpose: purpose}
}

// The portal serves the identity number prompt in a field it has renamed
// more than once; candidates run from the field we have seen in
// production down to any text input at all.
func credentialChain() chain {
	return chain{
		{`input[name="truePass"]`, 5 * time.Second},
		{`input[placeholder*="סיסמה"]`, 5 * time.Second},
		{`input[type="password"]`, 5 * time.Second},
		{`input[type="text"]`, 5 * time.Second},
		{`#truePass`, 5 * time.Second},
		{`.truePass`, 5 * time.Second},
	}
}

func loginSubmitChain() chain {
	return chain{
		{`//button[contains(normalize-space(.), "התחבר")]`, 3 * time.Second},
		{`input[type="submit"]`, 3 * time.Second},
		{`button[type="submit"]`, 3 * time.Second},
		{`.login-button`, 3 * time.Second},
		{`#loginButton`, 3 * time.Second},
	}
}

// otpChain excludes whatever selector already matched the credential
// field so the code is not typed over the identity number.
func otpChain(credentialSelector string) chain {
	all := chain{
		{`input[name="otp"]`, 5 * time.Second},
		{`input[placeholder*="קוד"]`, 5 * time.Second},
		{`input[placeholder*="OTP"]`, 5 * time.Second},
		{`input[type="text"]:not([name="truePass"])`, 5 * time.Second},
		{`input[maxlength="4"]`, 5 * time.Second},
		{`input[maxlength="6"]`, 5 * time.Second},
	}
	out := make(chain, 0, len(all))
	for _, cand := range all {
		if cand.selector == credentialSelector {
			continue
		}
		out = append(out, cand)
	}
	return out
}

func confirmChain() chain {
	return chain{
		{`//button[contains(normalize-space(.), "אישור")]`, 3 * time.Second},
		{`//button[contains(normalize-space(.), "התחבר")]`, 3 * time.Second},
		{`//button[contains(normalize-space(.), "כניסה")]`, 3 * time.Second},
		{`input[type="submit"]`, 3 * time.Second},
		{`button[type="submit"]`, 3 * time.Second},
	}
}
