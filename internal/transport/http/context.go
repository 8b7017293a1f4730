// Copyright 2026 The SafeStay Authors
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

package http

import (
	"context"

	"github.com/safestay/safestay/internal/session"
)

type contextKey string

const (
	sessionKey contextKey = "session"
)

// withSession stores the authenticated owner session in ctx
func withSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// GetSession retrieves the authenticated owner session from context.
func GetSession(ctx context.Context) *session.Session {
	if val, ok := ctx.Value(sessionKey).(*session.Session); ok {
		return val
	}
	return nil
}

// GetOwnerRef retrieves the authenticated owner reference from context.
func GetOwnerRef(ctx context.Context) string {
	if sess := GetSession(ctx); sess != nil {
		return sess.OwnerRef
	}
	return ""
}
