// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package as4gateway is the root of the AS4 gateway, a message service handler
built around the delivery-reliability core of the OASIS AS4 profile of
ebMS 3.0.

# Overview

The gateway accepts business messages from local producers, exchanges them
with partner gateways over the ebMS 3.0 message packaging, and guarantees the
reliability semantics of the profile: synchronous receipts on push, reception
awareness with retransmission on the sending side, duplicate detection on the
receiving side, and consumer notification of the final outcome. Every message
unit is persisted before it is acted on; background agents drive each unit
through its lifecycle by claiming work from the datastore.

# Specifications

  - OASIS AS4 Profile of ebMS 3.0 Version 1.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
  - OASIS ebXML Messaging Services v3.0: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/

# Package Structure

	github.com/sirosfoundation/as4-gateway/pkg/ebms           - ebMS message units and envelope serialization
	github.com/sirosfoundation/as4-gateway/pkg/pmode          - Processing Mode configuration and snapshots
	github.com/sirosfoundation/as4-gateway/pkg/pipeline       - Step pipeline engine
	github.com/sirosfoundation/as4-gateway/pkg/agent          - Polling agents and fleet controller
	github.com/sirosfoundation/as4-gateway/pkg/transport      - HTTPS transport with TLS 1.2/1.3
	github.com/sirosfoundation/as4-gateway/internal/datastore - Message, exception and reliability entities
	github.com/sirosfoundation/as4-gateway/internal/server    - Receiving front-end and submit API
	github.com/sirosfoundation/as4-gateway/internal/steps     - Pipeline steps of the message flows
	github.com/sirosfoundation/as4-gateway/internal/agents    - Agent fleet wiring
	github.com/sirosfoundation/as4-gateway/internal/services  - Inbound, signal, reliability and retry services
	github.com/sirosfoundation/as4-gateway/internal/notify    - Consumer notification publishers
	github.com/sirosfoundation/as4-gateway/internal/dispatch  - Outbound dispatch and delivery senders
	github.com/sirosfoundation/as4-gateway/internal/config    - YAML configuration

# Message Lifecycle

Outgoing messages move through ToBeSent, Sending and, depending on the PMode,
either close immediately or wait under reception awareness until the partner's
receipt arrives or the retry budget is exhausted. Incoming messages move
through ToBeProcessed, ToBeDelivered and ToBeNotified; duplicates are stored
and flagged but never re-enter processing. The examples/basic command runs the
whole cycle in process against the in-memory datastore.

# License

BSD-2-Clause License
*/
package as4gateway
