package iso7816

// SELECT (ISO/IEC 7816-4, 11.2.2):
// Applications are selected by DF name (P1 04), first or only occurrence
// with the FCI requested (P2 00). The AID travels as data and no Le is sent:
// a T=0 reader cannot carry Lc and Le together, so the card answers 61XX and
// the response is drained with GET RESPONSE.

const (
	selectByDFName byte = 0x04
	selectFirstFCI byte = 0x00
)

// SelectByAID builds the SELECT command of the application aid.
func SelectByAID(cla Class, aid []byte) *CommandAPDU {
	ins, _ := NewInstruction(INS_SELECT)
	return NewCommandAPDU(cla, ins, selectByDFName, selectFirstFCI, aid, 0)
}
