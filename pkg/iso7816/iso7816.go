/*
Package iso7816 speaks the ISO/IEC 7816-4 APDU layer for PIV cards.

It covers the pieces a PIV session needs and nothing more:

  - CLA and INS decoding (Class, Instruction).
  - Short C-APDU encoding and R-APDU parsing (CommandAPDU, ResponseAPDU).
  - Status word interpretation (StatusWord).
  - A Client that moves one logical command over as many physical frames as
    needed: command chaining on the way out, GET RESPONSE on the way back.

# Frames

	C-APDU : CLA INS P1 P2 [Lc Data] [Le]
	R-APDU : [Data] SW1 SW2

Lc never exceeds 255 bytes and a single R-APDU never exceeds MaxResponseFrame.

# Usage

	client := iso7816.NewClient(card, loggerFactory)

	cls, _ := iso7816.NewClass(0x00)
	resp, err := client.Transfer(iso7816.SelectByAID(cls, aid), 3072)
	if err != nil {
	    return err // transport or size failure
	}
	if resp.Status != iso7816.SW_NO_ERROR {
	    return fmt.Errorf("select: %s", resp.Status.Verbose())
	}

	// Every physical exchange is kept for diagnostics.
	fmt.Println(client.Trace.Describe())
*/
package iso7816
