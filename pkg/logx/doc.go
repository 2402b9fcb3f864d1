// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so components can take a value-type Logger (safe zero value,
// cheap With()) without binding to a concrete logging backend everywhere.
package logx
