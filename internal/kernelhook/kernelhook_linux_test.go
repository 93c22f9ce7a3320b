// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package kernelhook

import (
	"testing"

	"github.com/stretchr/testify/require"

	"sentryline.dev/ipsentry/internal/testutil"
)

// TestInstall_RoundTrip exercises the real netlink path: it needs
// CAP_NET_ADMIN and a kernel with nf_tables support, so it only runs under
// IPSENTRY_VM_TEST.
func TestInstall_RoundTrip(t *testing.T) {
	testutil.RequireVM(t)

	in := NewInstaller("ipsentry_test")
	require.NoError(t, in.Install(0))
	require.NoError(t, in.Uninstall(0))
}
