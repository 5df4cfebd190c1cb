package meta

type (
	// Sig is an opaque signature. The in-memory reader represents it as a
	// decoded tree; a real PE reader would wrap a blob slice.
	Sig interface {
		sig()
	}

	SigPrimitive PrimitiveCode

	SigTypeDef struct {
		H Handle
	}

	SigTypeRef struct {
		H Handle
	}

	SigPointer struct {
		Elem Sig
	}

	SigByRef struct {
		Elem Sig
	}

	SigArray struct {
		Elem Sig
		Rank int
	}

	SigInst struct {
		Def  Sig
		Args []Sig
	}

	SigClassParam int

	SigMethodParam int

	// SigBad stands for an element kind the reader cannot decode.
	SigBad byte
)

func (SigPrimitive) sig()   {}
func (SigTypeDef) sig()     {}
func (SigTypeRef) sig()     {}
func (SigPointer) sig()     {}
func (SigByRef) sig()       {}
func (SigArray) sig()       {}
func (SigInst) sig()        {}
func (SigClassParam) sig()  {}
func (SigMethodParam) sig() {}
func (SigBad) sig()         {}
