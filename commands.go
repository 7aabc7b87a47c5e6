package main

import (
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gregLibert/piv-card/pkg/pcsc"
	"github.com/gregLibert/piv-card/pkg/piv"
)

var readersCmd = &cobra.Command{
	Use:   "readers",
	Short: "List connected PC/SC readers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		readers, err := pcsc.ListReaders()
		if err != nil {
			return err
		}
		for _, r := range readers {
			fmt.Fprintln(cmd.OutOrStdout(), r)
		}
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show version, serial number and application properties",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCard(func(tx *piv.Transaction) error {
			props, err := tx.SelectApplication()
			if err != nil {
				return err
			}
			v, err := tx.Version()
			if err != nil {
				return err
			}
			serial, err := tx.Serial(v)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version: %s\n", v)
			fmt.Fprintf(out, "Serial:  %d\n", serial)
			fmt.Fprintln(out, props.Describe())
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the firmware version of the card",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCard(func(tx *piv.Transaction) error {
			v, err := tx.Version()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		})
	},
}

var serialCmd = &cobra.Command{
	Use:   "serial",
	Short: "Show the serial number of the card",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCard(func(tx *piv.Transaction) error {
			v, err := tx.Version()
			if err != nil {
				return err
			}
			serial, err := tx.Serial(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), serial)
			return nil
		})
	},
}

var retriesCmd = &cobra.Command{
	Use:   "retries",
	Short: "Show the PIN tries left",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCard(func(tx *piv.Transaction) error {
			n, err := tx.Retries()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		})
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the PIN",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := pin()
		if err != nil {
			return err
		}
		defer clear(p)

		return withCard(func(tx *piv.Transaction) error {
			if err := tx.VerifyPIN(p); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "PIN verified")
			return nil
		})
	},
}

var objectCmd = &cobra.Command{
	Use:   "object",
	Short: "Read and write PIV data objects",
}

var objectGetCmd = &cobra.Command{
	Use:   "get <object>",
	Short: "Dump a data object (name such as chuid, or hex tag such as 5FC102)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := piv.ParseObjectID(args[0])
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")

		return withCard(func(tx *piv.Transaction) error {
			data, err := tx.FetchObject(id)
			if err != nil {
				return err
			}
			if output != "" {
				return os.WriteFile(output, data, 0o600)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.ToUpper(hex.EncodeToString(data)))
			return nil
		})
	},
}

var objectPutCmd = &cobra.Command{
	Use:   "put <object> <file>",
	Short: "Store the content of file in a data object",
	Long: `Store the content of file in a data object.

The write is authorized with the management key given by --management-key
(the factory key when omitted), in the same card session.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := piv.ParseObjectID(args[0])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		key, err := managementKey()
		if err != nil {
			return err
		}
		defer clear(key.Key)

		return withCard(func(tx *piv.Transaction) error {
			if err := tx.AuthenticateManagementKey(key); err != nil {
				return err
			}
			return tx.SaveObject(id, data)
		})
	},
}

var certCmd = &cobra.Command{
	Use:   "cert <slot>",
	Short: "Print the certificate stored for a key slot as PEM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := parseSlot(args[0])
		if err != nil {
			return err
		}
		return withCard(func(tx *piv.Transaction) error {
			cert, err := tx.Certificate(slot)
			if err != nil {
				return err
			}
			return writePEM(cmd, cert)
		})
	},
}

var attestCmd = &cobra.Command{
	Use:   "attest <slot>",
	Short: "Print the attestation certificate of a key slot as PEM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := parseSlot(args[0])
		if err != nil {
			return err
		}
		return withCard(func(tx *piv.Transaction) error {
			cert, err := tx.Attest(slot)
			if err != nil {
				return err
			}
			return writePEM(cmd, cert)
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the PIV application (PIN and PUK must both be blocked)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCard(func(tx *piv.Transaction) error {
			return tx.Reset()
		})
	},
}

func init() {
	objectGetCmd.Flags().StringP("output", "o", "", "write the raw object to this file instead of stdout")
	objectCmd.AddCommand(objectGetCmd, objectPutCmd)
}

// parseSlot accepts a slot as hex ("9a", "0x9C").
func parseSlot(s string) (piv.Slot, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid slot %q: %w", s, err)
	}
	return piv.Slot(v), nil
}

func writePEM(cmd *cobra.Command, cert *x509.Certificate) error {
	return pem.Encode(cmd.OutOrStdout(), &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}
