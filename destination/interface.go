/*
 * Copyright 2025 Olake By Datazip
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package destination

import (
	"context"

	"github.com/datazip-inc/olake-github/types"
)

// Emitter is the append only sink of the message stream. Implementations must be safe for
// concurrent use; the order of calls is the order of messages.
type Emitter interface {
	Type() string
	// EmitSchema announces a stream and the subset of its fields that records will carry
	EmitSchema(ctx context.Context, stream *types.StreamDescriptor, fields []string) error
	EmitRecord(ctx context.Context, stream string, record types.Record) error
	// EmitState must only be called once every record it bookmarks was emitted
	EmitState(ctx context.Context, state *types.State) error
	Close(ctx context.Context) error
}
