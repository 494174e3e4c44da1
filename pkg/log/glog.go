// Copyright 2026 The degrados Authors.
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

package log

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// GoogleEmitter is a wrapper that emits logs in a format compatible with
// package github.com/golang/glog:
//
//	Lmmdd hh:mm:ss.uuuuuu threadid file:line] msg...
//
// L is the level letter (D, I or W) and threadid is the space-padded pid.
type GoogleEmitter struct {
	// Emitter is the underlying emitter.
	Emitter
}

var levelLetters = [...]byte{Warning: 'W', Info: 'I', Debug: 'D'}

// caller returns "file:line" for the frame depth+1 levels up, with the
// directory trimmed.
func caller(depth int) string {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "x:0"
	}
	if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
		file = file[slash+1:]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// Emit emits the message, google-style.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	letter := byte('?')
	if int(level) < len(levelLetters) {
		letter = levelLetters[level]
	}
	b := make([]byte, 0, 64+len(format))
	b = append(b, letter)
	b = timestamp.AppendFormat(b, "0102 15:04:05.000000")
	b = fmt.Appendf(b, " %7d %s] ", os.Getpid(), caller(depth+1))
	b = append(b, format...)
	b = append(b, '\n')
	g.Emitter.Emit(depth+1, level, timestamp, string(b), args...)
}
