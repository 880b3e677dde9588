// Package all registers every storage backend with the storage factory.
package all

import (
	_ "schemasync/internal/storage/mssql"
	_ "schemasync/internal/storage/postgres"
	_ "schemasync/internal/storage/sqlite"
)
