// Package rayerr implements the closed error taxonomy shared by every
// component of the query-execution core (spec §4.11).
package rayerr

import "fmt"

// Code is the closed set of error categories every operator can raise.
type Code int

const (
	TYPE Code = iota
	ARITY
	LENGTH
	INDEX
	DOMAIN
	VALUE
	LIMIT
	OS
	PARSE
	NYI
	USER
)

func (c Code) String() string {
	switch c {
	case TYPE:
		return "type"
	case ARITY:
		return "arity"
	case LENGTH:
		return "length"
	case INDEX:
		return "index"
	case DOMAIN:
		return "domain"
	case VALUE:
		return "value"
	case LIMIT:
		return "limit"
	case OS:
		return "os"
	case PARSE:
		return "parse"
	case NYI:
		return "nyi"
	case USER:
		return "user"
	default:
		return "unknown"
	}
}

// Err is the single struct used for every error code; only the fields
// relevant to Code are populated. spec.md describes this as a 32-byte
// struct with a context union — Go has no union, so the fields are simply
// inlined and left zero when unused.
type Err struct {
	Code Code

	// TYPE
	Expected string
	Actual   string
	ArgIndex int
	Field    string

	// ARITY
	Need int64
	Have int64

	// LENGTH additionally uses Need/Have plus:
	Field1 string
	Field2 string

	// INDEX
	Idx int64
	Len int64

	// VALUE
	Sym int64

	// LIMIT
	Limit int64

	// OS
	Errno error

	// NYI
	TypeID int

	// USER
	Msg string
}

func (e *Err) Error() string {
	switch e.Code {
	case TYPE:
		return fmt.Sprintf("type: expected %s, got %s at arg %d, field %s", e.Expected, e.Actual, e.ArgIndex, e.Field)
	case ARITY:
		return fmt.Sprintf("arity: need %d, have %d at arg %d", e.Need, e.Have, e.ArgIndex)
	case LENGTH:
		return fmt.Sprintf("length: need %d, have %d, field1 %s, field2 %s", e.Need, e.Have, e.Field1, e.Field2)
	case INDEX:
		return fmt.Sprintf("index: idx %d, len %d, arg %d, field %s", e.Idx, e.Len, e.ArgIndex, e.Field)
	case DOMAIN:
		return fmt.Sprintf("domain: arg %d, field %s", e.ArgIndex, e.Field)
	case VALUE:
		return fmt.Sprintf("value: symbol %d", e.Sym)
	case LIMIT:
		return fmt.Sprintf("limit: exceeded %d", e.Limit)
	case OS:
		return fmt.Sprintf("os: %v", e.Errno)
	case PARSE:
		return "parse error"
	case NYI:
		return fmt.Sprintf("nyi: type %d", e.TypeID)
	case USER:
		return e.Msg
	default:
		return "unknown error"
	}
}

// Info renders the decoded error as a presentation dict, per spec.md
// §4.11's "Decoding err_info returns a dict {code, ...}".
func (e *Err) Info() map[string]any {
	m := map[string]any{"code": e.Code.String()}
	switch e.Code {
	case TYPE:
		m["expected"] = e.Expected
		m["actual"] = e.Actual
		m["arg"] = e.ArgIndex
		m["field"] = e.Field
	case ARITY:
		m["need"] = e.Need
		m["have"] = e.Have
		m["arg"] = e.ArgIndex
	case LENGTH:
		m["need"] = e.Need
		m["have"] = e.Have
		m["field1"] = e.Field1
		m["field2"] = e.Field2
	case INDEX:
		m["idx"] = e.Idx
		m["len"] = e.Len
		m["arg"] = e.ArgIndex
		m["field"] = e.Field
	case DOMAIN:
		m["arg"] = e.ArgIndex
		m["field"] = e.Field
	case VALUE:
		m["symbol"] = e.Sym
	case LIMIT:
		m["limit"] = e.Limit
	case OS:
		m["errno"] = e.Errno
	case NYI:
		m["type"] = e.TypeID
	case USER:
		m["message"] = e.Msg
	}
	return m
}

// Type builds a TYPE error.
func Type(expected, actual string, argIndex int, field string) *Err {
	return &Err{Code: TYPE, Expected: expected, Actual: actual, ArgIndex: argIndex, Field: field}
}

// Arity builds an ARITY error.
func Arity(need, have int64, argIndex int) *Err {
	return &Err{Code: ARITY, Need: need, Have: have, ArgIndex: argIndex}
}

// Length builds a LENGTH error.
func Length(need, have int64, field1, field2 string) *Err {
	return &Err{Code: LENGTH, Need: need, Have: have, Field1: field1, Field2: field2}
}

// Index builds an INDEX error.
func Index(idx, ln int64, argIndex int, field string) *Err {
	return &Err{Code: INDEX, Idx: idx, Len: ln, ArgIndex: argIndex, Field: field}
}

// Domain builds a DOMAIN error.
func Domain(argIndex int, field string) *Err {
	return &Err{Code: DOMAIN, ArgIndex: argIndex, Field: field}
}

// Nyi builds an NYI error for an unimplemented op on the given type id.
func Nyi(typeID int) *Err {
	return &Err{Code: NYI, TypeID: typeID}
}

// User builds a USER error with a free-form message.
func User(msg string) *Err {
	return &Err{Code: USER, Msg: msg}
}

// Limit builds a LIMIT error.
func Limit(limit int64) *Err {
	return &Err{Code: LIMIT, Limit: limit}
}

// OSErr wraps a captured platform error.
func OSErr(err error) *Err {
	return &Err{Code: OS, Errno: err}
}
