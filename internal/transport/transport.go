// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package transport implements the engine.RequestEngine contract: the one
// collaborator responsible for actually talking to the network. HTTPEngine
// is the net/http-based implementation, classifying per-call failures into
// the retriable/terminal error taxonomy via context.Context deadlines and
// net.Error / *net.OpError inspection.
package transport
