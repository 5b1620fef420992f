// Copyright (c) The ResilientCore Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package codec

import "encoding/json"

// DumpJSON renders v as indented JSON for operator-facing debug output
// (cmd/* diagnostics, log fields at debug level). It is never used on the
// wire; the TLV encoders above own that path.
func DumpJSON(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
