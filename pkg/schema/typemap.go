package schema

// ColumnType maps a declared field to its SQLite column type. The mapping
// depends only on the semantic type; Optional never changes the storage
// type, it only permits NULL values. Unknown types fall back to TEXT so
// synchronization stays total over future semantic types.
func ColumnType(f Field) string {
	switch f.Type {
	case FieldTypeString:
		return "TEXT"
	case FieldTypeInt:
		return "INTEGER"
	case FieldTypeFloat:
		return "REAL"
	case FieldTypeBool:
		return "BOOLEAN"
	case FieldTypeTimestamp:
		return "TIMESTAMP"
	case FieldTypeUUID:
		return "TEXT"
	default:
		return "TEXT"
	}
}
