// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package networking

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/resilientdb/core/codec"
	"github.com/resilientdb/core/types"
)

func TestInboundMessageCarriesDecodedEnvelope(t *testing.T) {
	env := codec.Envelope{Type: types.MessagePrepare, Epoch: 3}
	im := InboundMessage{Envelope: env}
	require.Equal(t, types.MessagePrepare, im.Envelope.Type)
	require.Equal(t, uint64(3), im.Envelope.Epoch)
}

var _ ReplicaCommunicator = (*ZMQTransport)(nil)
