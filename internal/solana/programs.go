package solana

// Well-known program addresses.
const (
	TokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID       = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	AssociatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
)

// Program names reported by jsonParsed encoding for the token programs.
const (
	ParsedProgramToken     = "spl-token"
	ParsedProgramToken2022 = "spl-token-2022"
)

// TokenProgramIDs lists both token program versions.
var TokenProgramIDs = []string{TokenProgramID, Token2022ProgramID}

// IsTokenProgram reports whether id is one of the token programs.
func IsTokenProgram(id string) bool {
	return id == TokenProgramID || id == Token2022ProgramID
}

// IsParsedTokenProgram reports whether name is a jsonParsed token program name.
func IsParsedTokenProgram(name string) bool {
	return name == ParsedProgramToken || name == ParsedProgramToken2022
}
