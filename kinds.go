package nostr

import "strconv"

type Kind uint16

func (kind Kind) Num() uint16    { return uint16(kind) }
func (kind Kind) String() string { return "kind::" + kind.Name() + "<" + strconv.Itoa(int(kind)) + ">" }
func (kind Kind) Name() string {
	switch kind {
	case KindProfileMetadata:
		return "ProfileMetadata"
	case KindTextNote:
		return "TextNote"
	case KindEncryptedDirectMessage:
		return "EncryptedDirectMessage"
	case KindClientAuthentication:
		return "ClientAuthentication"
	}
	return "unknown"
}

const (
	KindProfileMetadata        Kind = 0
	KindTextNote               Kind = 1
	KindEncryptedDirectMessage Kind = 4
	KindClientAuthentication   Kind = 22242
)
