// Copyright 2015 Google Inc. All Rights Reserved.
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

// Package ipc implements the kernel side of a microkernel IPC subsystem:
// tasks, phones, answerboxes and calls, and the engine that moves calls
// between them (send, answer, forward, synchronous call, and cleanup on
// task death).
//
// The primary elements of interest are:
//
//  *  Task, which owns exactly one Answerbox and a fixed array of Phones.
//
//  *  Phone, a directed capability from a task to a target answerbox, with a
//     connect/call/hangup state machine.
//
//  *  Answerbox, the per-task inbox holding the four ordered call sequences.
//
//  *  The engine: the package-level functions Call, Answer, Forward,
//     CallSync and Cleanup, built on top of Task/Phone/Answerbox.
//
// Package async, layered on top, turns these raw primitives into the
// userspace request/reply sessions real callers use.
package ipc
