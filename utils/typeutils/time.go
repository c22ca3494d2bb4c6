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

package typeutils

import (
	"fmt"
	"strings"
	"time"
)

// layouts accepted for bookmark values and record timestamps
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	time.DateOnly,
}

type Time struct {
	time.Time
}

// UnmarshalJSON accepts any of the supported timestamp layouts
func (ct *Time) UnmarshalJSON(b []byte) error {
	str := strings.Trim(string(b), "\"")
	parsed, err := ParseTimestamp(str)
	if err != nil {
		return err
	}

	*ct = Time{parsed}
	return nil
}

func (ct Time) MarshalJSON() ([]byte, error) {
	return []byte(`"` + FormatTimestamp(ct.Time) + `"`), nil
}

// Compare compares the time instant ct with u. If ct is before u, it returns -1;
// if ct is after u, it returns +1; if they're the same, it returns 0.
func (ct Time) Compare(u Time) int {
	if ct.Time.Before(u.Time) {
		return -1
	}
	if ct.Time.After(u.Time) {
		return 1
	}
	return 0
}

// ParseTimestamp parses a timestamp string; values without offset are taken as UTC
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	// cheap guard so plain numbers and words never reach the layouts
	if len(value) < len(time.DateOnly) || value[4] != '-' {
		return time.Time{}, fmt.Errorf("value [%s] is not a timestamp", value)
	}

	for _, layout := range timestampLayouts {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			return parsed.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("value [%s] does not match any supported timestamp layout", value)
}

// FormatTimestamp renders the canonical bookmark form of a time
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
