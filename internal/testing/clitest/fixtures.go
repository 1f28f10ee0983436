// Copyright 2025 Tom Barlow
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

package clitest

// LoginScript opens an app and taps three times in a loop.
const LoginScript = `name: login
steps:
  - id: open
    step_type: launch_app
  - id: L1
    step_type: loop_start
    parameters:
      loop_id: login
      loop_count: 3
  - id: tap
    step_type: tap
  - id: L1end
    step_type: loop_end
    parameters:
      loop_id: login
`

// MismatchedScript closes its loop with a misspelled id.
const MismatchedScript = `steps:
  - id: L1
    step_type: loop_start
    parameters:
      loop_id: login
      loop_count: 2
  - id: tap
    step_type: tap
  - id: L1end
    step_type: loop_end
    parameters:
      loop_id: logn
`

// BranchScript picks a branch from the retries variable and recovers from
// a failing step in a try block.
const BranchScript = `name: checkout
variables:
  retries: 3
steps:
  - id: C1
    step_type: if_start
    parameters:
      condition_id: many
      condition: retries > 2
  - id: slow
    step_type: tap
  - id: C1else
    step_type: else
    parameters:
      condition_id: many
  - id: fast
    step_type: tap
  - id: C1end
    step_type: if_end
    parameters:
      condition_id: many
  - id: T1
    step_type: try_start
    parameters:
      try_id: pay
  - id: submit
    step_type: tap
  - id: T1catch
    step_type: catch
    parameters:
      try_id: pay
  - id: cancel
    step_type: tap
  - id: T1end
    step_type: try_end
    parameters:
      try_id: pay
`
