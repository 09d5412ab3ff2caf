// Package all registers every canonical store backend with the factory.
// Blank-import it from binaries; config selects which backend is used.
package all

import (
	_ "regimport/internal/store/mssql"
	_ "regimport/internal/store/postgres"
	_ "regimport/internal/store/sqlite"
)
