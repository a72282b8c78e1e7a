package negotiation

// StorageKey is the fixed key the whole negotiation table is serialized
// under. It mirrors the storage layout of earlier clients, so changing it
// orphans every existing device copy.
const StorageKey = "negotiations_v2"

// LocalDocument stores one wholesale-serialized table per key.
type LocalDocument struct {
	Key             string `gorm:"column:key;primaryKey;size:190;not null"`
	PayloadJSON     string `gorm:"column:payload_json;type:text;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LocalDocument) TableName() string {
	return "local_documents"
}
