// Copyright 2024-2026 Aiku AI

// Package upgrades contains the SQL schema migrations for the correlation store.
package upgrades

import (
	"embed"

	"go.mau.fi/util/dbutil"
)

// Table is the upgrade table for the correlation store database.
var Table dbutil.UpgradeTable

//go:embed *.sql
var rawUpgrades embed.FS

func init() {
	Table.RegisterFS(rawUpgrades)
}
