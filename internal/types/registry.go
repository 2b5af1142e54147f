package types

import (
	"encoding/json"
	"fmt"
)

// Encode wraps a typed record into its Record envelope for persistence.
func Encode(kind Kind, data any, source Source, confidence Confidence) (Record, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Record{}, fmt.Errorf("encode %s: %w", kind, err)
	}
	return Record{Kind: kind, Data: raw, Source: source, Confidence: confidence}, nil
}

// DecodeModuleDef, DecodeFunctionDef, ... unmarshal a Record's Data into its
// typed shape. Each returns an error if r.Kind does not match.

func DecodeModuleDef(r Record) (ModuleDef, error) {
	var v ModuleDef
	return v, decodeInto(r, KindModuleDef, &v)
}

func DecodeFunctionDef(r Record) (FunctionDef, error) {
	var v FunctionDef
	return v, decodeInto(r, KindFunctionDef, &v)
}

func DecodeCallRef(r Record) (CallRef, error) {
	var v CallRef
	return v, decodeInto(r, KindCallRef, &v)
}

func DecodeDirectiveRef(r Record) (DirectiveRef, error) {
	var v DirectiveRef
	return v, decodeInto(r, KindDirectiveRef, &v)
}

func DecodeStructDef(r Record) (StructDef, error) {
	var v StructDef
	return v, decodeInto(r, KindStructDef, &v)
}

func DecodeRoute(r Record) (Route, error) {
	var v Route
	return v, decodeInto(r, KindRoute, &v)
}

func DecodeSchema(r Record) (Schema, error) {
	var v Schema
	return v, decodeInto(r, KindSchema, &v)
}

func DecodeTypeSpec(r Record) (TypeSpec, error) {
	var v TypeSpec
	return v, decodeInto(r, KindTypeSpec, &v)
}

func DecodeTypeDef(r Record) (TypeDef, error) {
	var v TypeDef
	return v, decodeInto(r, KindTypeDef, &v)
}

func DecodeDiagnostic(r Record) (Diagnostic, error) {
	var v Diagnostic
	return v, decodeInto(r, KindDiagnostic, &v)
}

func DecodeDepEdge(r Record) (DepEdge, error) {
	var v DepEdge
	return v, decodeInto(r, KindDepEdge, &v)
}

func decodeInto(r Record, want Kind, v any) error {
	if r.Kind != want {
		return fmt.Errorf("decode %s: record has kind %s", want, r.Kind)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", want, err)
	}
	return nil
}

// FileOf returns the file path carried by a record, used by
// remove_records_for_files and the change detector. Kinds without a File
// field (DepEdge) return "".
func FileOf(r Record) (string, error) {
	switch r.Kind {
	case KindModuleDef:
		v, err := DecodeModuleDef(r)
		return v.File, err
	case KindFunctionDef:
		v, err := DecodeFunctionDef(r)
		return v.File, err
	case KindCallRef:
		v, err := DecodeCallRef(r)
		return v.File, err
	case KindDirectiveRef:
		v, err := DecodeDirectiveRef(r)
		return v.File, err
	case KindStructDef:
		v, err := DecodeStructDef(r)
		return v.File, err
	case KindRoute:
		v, err := DecodeRoute(r)
		return v.File, err
	case KindSchema:
		v, err := DecodeSchema(r)
		return v.File, err
	case KindTypeSpec:
		v, err := DecodeTypeSpec(r)
		return v.File, err
	case KindTypeDef:
		v, err := DecodeTypeDef(r)
		return v.File, err
	case KindDiagnostic:
		v, err := DecodeDiagnostic(r)
		return v.File, err
	case KindDepEdge:
		return "", nil // dep edges are module-scoped, not file-scoped
	default:
		return "", fmt.Errorf("unknown record kind %s", r.Kind)
	}
}
