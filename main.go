// Command pivctl talks to PIV smart cards (YubiKey and compatible tokens)
// through PC/SC.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pion/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gregLibert/piv-card/pkg/pcsc"
	"github.com/gregLibert/piv-card/pkg/piv"
	"github.com/gregLibert/piv-card/pkg/tlv"
)

// CONFIGURATION:
// Every persistent flag can also be set from the environment with the
// PIVCTL_ prefix, dashes becoming underscores:
//   --reader     PIVCTL_READER
//   --log-level  PIVCTL_LOG_LEVEL  (disable, error, warn, info, debug, trace)
//   --pin        PIVCTL_PIN
//   --show-trace PIVCTL_SHOW_TRACE
//   --management-key            PIVCTL_MANAGEMENT_KEY            (hex, card default if empty)
//   --management-key-algorithm  PIVCTL_MANAGEMENT_KEY_ALGORITHM  (3des, aes128, aes192, aes256)
// Per scope overrides still come from the PION_LOG_<LEVEL>=piv,iso7816 variables.

const envPrefix = "PIVCTL"

var config = viper.New()

var rootCmd = &cobra.Command{
	Use:   "pivctl",
	Short: "Inspect and drive PIV smart cards over PC/SC",
	Long: `pivctl sends PIV commands to the card in a PC/SC reader.

Quick usage:
  pivctl readers                 # List connected readers
  pivctl info                    # Version, serial and application properties
  pivctl verify --pin 123456     # Check the PIN
  pivctl object get chuid        # Dump a data object
  pivctl cert 9a                 # Print the certificate of a slot as PEM
  pivctl attest 9c               # Print the attestation of a slot as PEM`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("reader", "", "PC/SC reader name (default: first YubiKey found)")
	flags.String("log-level", "warn", "log level (disable, error, warn, info, debug, trace)")
	flags.String("pin", "", "PIN used by commands that need one")
	flags.Bool("show-trace", false, "print every APDU exchanged to stderr")
	flags.String("management-key", "", "management key in hex (default: the factory key)")
	flags.String("management-key-algorithm", "3des", "management key cipher (3des, aes128, aes192, aes256)")

	for _, name := range []string{"reader", "log-level", "pin", "show-trace", "management-key", "management-key-algorithm"} {
		if err := config.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	config.SetEnvPrefix(envPrefix)
	config.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	config.AutomaticEnv()

	rootCmd.AddCommand(readersCmd, infoCmd, versionCmd, serialCmd, retriesCmd,
		verifyCmd, objectCmd, certCmd, attestCmd, resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var logLevels = map[string]logging.LogLevel{
	"disable": logging.LogLevelDisabled,
	"error":   logging.LogLevelError,
	"warn":    logging.LogLevelWarn,
	"info":    logging.LogLevelInfo,
	"debug":   logging.LogLevelDebug,
	"trace":   logging.LogLevelTrace,
}

// loggerFactory builds the pion factory for the configured level.
func loggerFactory() (logging.LoggerFactory, error) {
	name := strings.ToLower(config.GetString("log-level"))
	level, ok := logLevels[name]
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", name)
	}

	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = level
	return factory, nil
}

// withCard opens the configured reader, selects the PIV application and
// runs f in a single card transaction.
func withCard(f func(tx *piv.Transaction) error) (err error) {
	factory, err := loggerFactory()
	if err != nil {
		return err
	}

	reader, err := pcsc.Open(config.GetString("reader"))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := reader.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	conn := piv.NewConn(reader.Card(), piv.Config{LoggerFactory: factory})
	return conn.Do(func(tx *piv.Transaction) error {
		if config.GetBool("show-trace") {
			defer func() { fmt.Fprintln(os.Stderr, tx.Trace().Describe()) }()
		}
		if _, err := tx.SelectApplication(); err != nil {
			return err
		}
		return f(tx)
	})
}

// pin returns the configured PIN, failing when none was given.
func pin() ([]byte, error) {
	p := config.GetString("pin")
	if p == "" {
		return nil, fmt.Errorf("no PIN given (use --pin or %s_PIN)", envPrefix)
	}
	return []byte(p), nil
}

var managementAlgorithms = map[string]piv.ManagementKeyAlgorithm{
	"3des":   piv.Mgm3DES,
	"aes128": piv.MgmAES128,
	"aes192": piv.MgmAES192,
	"aes256": piv.MgmAES256,
}

// managementKey returns the configured management key, or the factory key
// when none was given.
func managementKey() (piv.ManagementKey, error) {
	raw := config.GetString("management-key")
	if raw == "" {
		return piv.DefaultManagementKey(), nil
	}

	name := strings.ToLower(config.GetString("management-key-algorithm"))
	alg, ok := managementAlgorithms[name]
	if !ok {
		return piv.ManagementKey{}, fmt.Errorf("unknown management key algorithm %q", name)
	}

	key, err := tlv.ParseHex(raw)
	if err != nil {
		return piv.ManagementKey{}, fmt.Errorf("management key: %w", err)
	}
	return piv.ManagementKey{Algorithm: alg, Key: key}, nil
}
