// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

// Package kernelhook installs and removes the per-queue redirection rules
// described in SPEC_FULL.md §4.4/§6: one queue statement per worker, added
// to both the input and output chains of a dedicated inet table, the
// Go-native equivalent of the original's `iptables -j NFQUEUE --queue-num N`.
package kernelhook

import (
	"fmt"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"

	ipserrors "sentryline.dev/ipsentry/internal/errors"
)

const (
	defaultTableName = "ipsentry"
	inputChainName   = "input"
	outputChainName  = "output"
)

// Installer owns the inet table the IPS installs its queue-redirection
// rules into. Grounded on internal/kernel.LinuxKernel's AddBlock/RemoveBlock
// pair, generalized from IP-set element manipulation to queue-redirect
// rule manipulation.
type Installer struct {
	tableName string
}

// NewInstaller returns an Installer for the given table name, defaulting to
// "ipsentry" when empty.
func NewInstaller(tableName string) *Installer {
	if tableName == "" {
		tableName = defaultTableName
	}
	return &Installer{tableName: tableName}
}

// Install redirects both INPUT and OUTPUT traffic for queueNum to the
// kernel NFQUEUE numbered queueNum. Each call adds the table and the
// queue's chains before appending one queue rule to each chain, matching
// the source's "once per queue per chain" semantics; calling it twice for
// the same queue appends the rules twice.
func (in *Installer) Install(queueNum uint16) error {
	conn, err := nftables.New()
	if err != nil {
		return ipserrors.Wrapf(err, ipserrors.KindQueueIO, "connect to netlink")
	}

	table := conn.AddTable(&nftables.Table{Name: in.tableName, Family: nftables.TableFamilyINet})

	inputChain := conn.AddChain(&nftables.Chain{
		Name:     fmt.Sprintf("%s_q%d", inputChainName, queueNum),
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookInput,
		Priority: nftables.ChainPriorityFilter,
	})
	outputChain := conn.AddChain(&nftables.Chain{
		Name:     fmt.Sprintf("%s_q%d", outputChainName, queueNum),
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookOutput,
		Priority: nftables.ChainPriorityFilter,
	})

	queueExpr := []expr.Any{&expr.Queue{Num: queueNum, Total: 1}}
	conn.AddRule(&nftables.Rule{Table: table, Chain: inputChain, Exprs: queueExpr})
	conn.AddRule(&nftables.Rule{Table: table, Chain: outputChain, Exprs: queueExpr})

	if err := conn.Flush(); err != nil {
		return ipserrors.Wrapf(err, ipserrors.KindQueueIO, "install queue %d redirect rules", queueNum)
	}
	return nil
}

// Uninstall removes the chains created for queueNum. Per §4.4, uninstall is
// attempted for every queue id regardless of worker state, so this call is
// expected to tolerate "already gone" outcomes from a best-effort caller —
// it still reports the netlink error for the caller to log.
func (in *Installer) Uninstall(queueNum uint16) error {
	conn, err := nftables.New()
	if err != nil {
		return ipserrors.Wrapf(err, ipserrors.KindQueueIO, "connect to netlink")
	}

	table := &nftables.Table{Name: in.tableName, Family: nftables.TableFamilyINet}
	conn.DelChain(&nftables.Chain{Name: fmt.Sprintf("%s_q%d", inputChainName, queueNum), Table: table})
	conn.DelChain(&nftables.Chain{Name: fmt.Sprintf("%s_q%d", outputChainName, queueNum), Table: table})

	if err := conn.Flush(); err != nil {
		return ipserrors.Wrapf(err, ipserrors.KindQueueIO, "uninstall queue %d redirect rules", queueNum)
	}
	return nil
}
