package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wheelguard/internal/model"
)

var (
	confirmChallenge string
	confirmDevice    string
	confirmSequence  uint32
)

func init() {
	rootCmd.AddCommand(challengeCmd)
	challengeCmd.AddCommand(challengeRequestCmd, challengeConsentCmd, challengeComboCmd,
		challengeConfirmCmd, challengeCancelCmd, disableCmd)

	challengeConfirmCmd.Flags().StringVar(&confirmChallenge, "challenge", "", "Challenge token (required)")
	challengeConfirmCmd.Flags().StringVar(&confirmDevice, "device-token", "", "Device token from the firmware (required)")
	challengeConfirmCmd.Flags().Uint32Var(&confirmSequence, "sequence", 0, "Custom button sequence id (default both clutch paddles)")
	challengeConfirmCmd.MarkFlagRequired("challenge")
	challengeConfirmCmd.MarkFlagRequired("device-token")
}

var challengeCmd = &cobra.Command{
	Use:   "challenge",
	Short: "Drive the high-torque challenge on a running daemon",
	Long: "Steps through the high-torque handshake by hand: request a challenge,\n" +
		"give consent, report the combo start and confirm with the firmware's\n" +
		"acknowledgement. Normally the wheel's clutch paddles complete the combo.",
}

var challengeRequestCmd = &cobra.Command{
	Use:   "request <device-id>",
	Short: "Request high torque for a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		ch, err := c.RequestHighTorque(args[0])
		if err != nil {
			return fmt.Errorf("request: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Challenge issued for %s\n", ch.DeviceID)
		fmt.Fprintf(out, "  token:   %d\n", ch.Token)
		fmt.Fprintf(out, "  combo:   %s\n", ch.ComboRequired)
		fmt.Fprintf(out, "  expires: %s\n", ch.ExpiresAt.Local().Format("15:04:05"))
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Next: wheelguard challenge consent %d\n", ch.Token)
		return nil
	},
}

var challengeConsentCmd = &cobra.Command{
	Use:   "consent <challenge-token>",
	Short: "Give operator consent for a pending challenge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := parseToken(args[0])
		if err != nil {
			return err
		}
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.ProvideConsent(token)
		if err != nil {
			return fmt.Errorf("consent: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Consent recorded. State: %s\nHold both clutch paddles to confirm.\n", reply.Detail)
		return nil
	},
}

var challengeComboCmd = &cobra.Command{
	Use:   "combo-start <challenge-token>",
	Short: "Report that the physical combo press began",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := parseToken(args[0])
		if err != nil {
			return err
		}
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.ReportComboStart(token)
		if err != nil {
			return fmt.Errorf("combo start: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Combo start recorded. State: %s\n", reply.Detail)
		return nil
	},
}

var challengeConfirmCmd = &cobra.Command{
	Use:   "confirm <device-id>",
	Short: "Confirm high torque with the firmware acknowledgement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		challengeToken, err := parseToken(confirmChallenge)
		if err != nil {
			return err
		}
		deviceToken, err := parseToken(confirmDevice)
		if err != nil {
			return err
		}
		combo := model.BothClutchPaddles()
		if confirmSequence != 0 {
			combo = model.CustomSequence(confirmSequence)
		}

		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.ConfirmHighTorque(args[0], model.InterlockAck{
			ChallengeToken: challengeToken,
			DeviceToken:    deviceToken,
			ComboCompleted: combo,
		})
		if err != nil {
			return fmt.Errorf("confirm: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "High torque active for %s: ceiling %.1f Nm\n", args[0], float64(reply.LimitNm))
		return nil
	},
}

var challengeCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the pending challenge",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		if _, err := c.CancelChallenge(); err != nil {
			return fmt.Errorf("cancel: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Challenge cancelled.")
		return nil
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <device-id>",
	Short: "Revoke a device's high-torque authorization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()

		reply, err := c.DisableHighTorque(args[0])
		if err != nil {
			return fmt.Errorf("disable: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "High torque disabled for %s. State: %s\n", args[0], reply.Detail)
		return nil
	},
}

func parseToken(s string) (uint64, error) {
	t, err := strconv.ParseUint(s, 10, 64)
	if err != nil || t == 0 {
		return 0, fmt.Errorf("invalid token %q: must be a non-zero decimal integer", s)
	}
	return t, nil
}
