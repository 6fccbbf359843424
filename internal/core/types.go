// Package core defines core types with zero external dependencies.
package core

// Direction of a translation, used as a metrics and log label.
type Direction string

const (
	DirectionV4ToV6 Direction = "4to6"
	DirectionV6ToV4 Direction = "6to4"
)
