package fleet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"printfarm/core-go/internal/moonraker"
	"printfarm/core-go/internal/telemetry"
)

type Verb string

const (
	VerbStartPrint      Verb = "start_print"
	VerbPause           Verb = "pause"
	VerbResume          Verb = "resume"
	VerbCancel          Verb = "cancel"
	VerbSetNozzleTemp   Verb = "set_nozzle_temp"
	VerbSetBedTemp      Verb = "set_bed_temp"
	VerbGCode           Verb = "gcode"
	VerbExcludeObject   Verb = "exclude_object"
	VerbEmergencyStop   Verb = "emergency_stop"
	VerbFirmwareRestart Verb = "firmware_restart"

	VerbAFCLoad           Verb = "afc_load"
	VerbAFCUnload         Verb = "afc_unload"
	VerbAFCEject          Verb = "afc_eject"
	VerbAFCCut            Verb = "afc_cut"
	VerbAFCPoop           Verb = "afc_poop"
	VerbAFCBrush          Verb = "afc_brush"
	VerbAFCPark           Verb = "afc_park"
	VerbAFCStats          Verb = "afc_stats"
	VerbAFCCalibrate      Verb = "afc_calibrate"
	VerbAFCLEDOn          Verb = "afc_led_on"
	VerbAFCLEDOff         Verb = "afc_led_off"
	VerbAFCQuietMode      Verb = "afc_quiet_mode"
	VerbAFCClearMessage   Verb = "afc_clear_message"
	VerbAFCResetMotorTime Verb = "afc_reset_motor_time"
	VerbAFCLaneUpdate     Verb = "afc_lane_update"
)

const (
	scriptEmergencyStop   = "M112"
	scriptFirmwareRestart = "FIRMWARE_RESTART"
)

var afcMacros = map[Verb]string{
	VerbAFCCut:            "AFC_CUT",
	VerbAFCPoop:           "AFC_POOP",
	VerbAFCBrush:          "AFC_BRUSH",
	VerbAFCPark:           "AFC_PARK",
	VerbAFCStats:          "AFC_STATS",
	VerbAFCCalibrate:      "AFC_CALIBRATION",
	VerbAFCLEDOn:          "TURN_ON_AFC_LED",
	VerbAFCLEDOff:         "TURN_OFF_AFC_LED",
	VerbAFCQuietMode:      "AFC_QUIET_MODE",
	VerbAFCClearMessage:   "AFC_CLEAR_MESSAGE",
	VerbAFCResetMotorTime: "AFC_RESET_MOTOR_TIME",
}

// Command is one control operation. Only the fields its Verb uses are read.
type Command struct {
	Verb     Verb     `json:"verb"`
	Filename string   `json:"filename,omitempty"`
	Target   *float64 `json:"target,omitempty"`
	Script   string   `json:"script,omitempty"`
	Object   string   `json:"object,omitempty"`
	Lane     *int     `json:"lane,omitempty"`
	Material *string  `json:"material,omitempty"`
	Color    *string  `json:"color,omitempty"`
	SpoolID  *string  `json:"spool_id,omitempty"`
}

var ErrInvalidCommand = errors.New("invalid command")

type UnknownCommandError struct {
	Verb Verb
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", string(e.Verb))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCommand, fmt.Sprintf(format, args...))
}

// commandPlan is the fully resolved form of a Command.
type commandPlan struct {
	verb     Verb
	requests []moonraker.Request

	// optimistic is applied before dispatch; a dispatch failure is then
	// expected and not reported.
	optimistic telemetry.PrintStatus
	// settle delays the follow-up poll.
	settle  bool
	logLine string
	confirm func(st *DeviceState)
}

func planCommand(cmd Command) (commandPlan, error) {
	p := commandPlan{verb: cmd.Verb}

	switch cmd.Verb {
	case VerbStartPrint:
		name := strings.TrimSpace(cmd.Filename)
		if name == "" {
			return p, invalid("filename is required")
		}
		p.requests = []moonraker.Request{moonraker.PrintStart(name)}

	case VerbPause:
		p.requests = []moonraker.Request{moonraker.PrintPause()}
	case VerbResume:
		p.requests = []moonraker.Request{moonraker.PrintResume()}
	case VerbCancel:
		p.requests = []moonraker.Request{moonraker.PrintCancel()}

	case VerbSetNozzleTemp, VerbSetBedTemp:
		if cmd.Target == nil || math.IsNaN(*cmd.Target) || math.IsInf(*cmd.Target, 0) || *cmd.Target < 0 {
			return p, invalid("target must be a non-negative temperature")
		}
		target := int(math.Round(*cmd.Target))
		code := "M104"
		if cmd.Verb == VerbSetBedTemp {
			code = "M140"
		}
		p.requests = []moonraker.Request{moonraker.GCode(code + " S" + strconv.Itoa(target))}
		p.confirm = func(st *DeviceState) {
			if cmd.Verb == VerbSetBedTemp {
				st.Temperatures.BedTarget = target
			} else {
				st.Temperatures.NozzleTarget = target
			}
		}

	case VerbGCode:
		script := strings.TrimSpace(cmd.Script)
		if script == "" {
			return p, invalid("script is required")
		}
		switch {
		case strings.EqualFold(script, scriptEmergencyStop):
			p.verb = VerbEmergencyStop
			p.optimistic = telemetry.StatusError
			p.settle = true
		case strings.EqualFold(script, scriptFirmwareRestart):
			p.verb = VerbFirmwareRestart
			p.optimistic = telemetry.StatusOffline
			p.settle = true
		}
		p.requests = []moonraker.Request{moonraker.GCode(script)}
		p.logLine = "> " + script

	case VerbEmergencyStop:
		p.requests = []moonraker.Request{moonraker.GCode(scriptEmergencyStop)}
		p.optimistic = telemetry.StatusError
		p.settle = true
		p.logLine = "> " + scriptEmergencyStop

	case VerbFirmwareRestart:
		p.requests = []moonraker.Request{moonraker.GCode(scriptFirmwareRestart)}
		p.optimistic = telemetry.StatusOffline
		p.settle = true
		p.logLine = "> " + scriptFirmwareRestart

	case VerbExcludeObject:
		name := strings.TrimSpace(cmd.Object)
		if name == "" {
			return p, invalid("object is required")
		}
		p.requests = []moonraker.Request{moonraker.ExcludeObject(name)}

	case VerbAFCLoad:
		lane, err := requireLane(cmd.Lane)
		if err != nil {
			return p, err
		}
		p.requests = []moonraker.Request{moonraker.GCode("TOOL_LOAD LANE=" + lane)}
		p.settle = true

	case VerbAFCUnload, VerbAFCEject:
		script := "TOOL_UNLOAD"
		if cmd.Lane != nil {
			lane, err := requireLane(cmd.Lane)
			if err != nil {
				return p, err
			}
			if cmd.Verb == VerbAFCEject {
				script = "LANE_UNLOAD LANE=" + lane
			} else {
				script = "TOOL_UNLOAD LANE=" + lane
			}
		}
		p.requests = []moonraker.Request{moonraker.GCode(script)}
		p.settle = true

	case VerbAFCLaneUpdate:
		lane, err := requireLane(cmd.Lane)
		if err != nil {
			return p, err
		}
		fields := []struct {
			macro, param string
			value        *string
		}{
			{"SET_MATERIAL", "MATERIAL", cmd.Material},
			{"SET_COLOR", "COLOR", cmd.Color},
			{"SET_SPOOL_ID", "SPOOL_ID", cmd.SpoolID},
		}
		for _, f := range fields {
			if f.value == nil {
				continue
			}
			v := strings.TrimSpace(*f.value)
			if v == "" || strings.ContainsAny(v, " \t\r\n;") {
				return p, invalid("%s must be a single non-empty token", strings.ToLower(f.param))
			}
			p.requests = append(p.requests, moonraker.GCode(f.macro+" LANE="+lane+" "+f.param+"="+v))
		}
		if len(p.requests) == 0 {
			return p, invalid("lane update needs material, color or spool_id")
		}
		p.settle = true

	default:
		macro, ok := afcMacros[cmd.Verb]
		if !ok {
			return p, &UnknownCommandError{Verb: cmd.Verb}
		}
		p.requests = []moonraker.Request{moonraker.GCode(macro)}
		p.settle = true
	}

	return p, nil
}

func requireLane(lane *int) (string, error) {
	if lane == nil {
		return "", invalid("lane is required")
	}
	if *lane < 0 {
		return "", invalid("lane must not be negative")
	}
	return moonraker.LaneName(*lane), nil
}

// SendCommand dispatches cmd to the printer. Emergency stop and firmware
// restart set the printer status before dispatch and keep it when the
// request fails, since both are expected to drop the connection. Any other
// dispatch failure is returned and leaves the state untouched. A successful
// command is followed by a poll, delayed for AFC operations.
func (s *Synchronizer) SendCommand(ctx context.Context, id string, cmd Command) (DeviceState, error) {
	e, ok := s.lookup(id)
	if !ok {
		return DeviceState{}, ErrUnknownDevice
	}

	p, err := planCommand(cmd)
	if err != nil {
		s.metrics.IncCommand(string(cmd.Verb), "rejected")
		return DeviceState{}, err
	}

	dev := e.load().Device
	log := s.log.With().Str("printer_id", id).Str("verb", string(p.verb)).Logger()

	if p.optimistic != "" {
		status := p.optimistic
		if st, ok := e.apply(e.begin(), func(st *DeviceState) { st.Status = status }); ok {
			s.emit(Event{Type: EventPrinterUpdated, PrinterID: id, Printer: &st})
		}
	}

	var sendErr error
	for _, req := range p.requests {
		if _, err := s.gw.Do(ctx, dev.Address, req); err != nil {
			sendErr = fmt.Errorf("%s: %w", req.String(), err)
			break
		}
	}

	if sendErr != nil {
		if p.optimistic == "" {
			log.Warn().Err(sendErr).Msg("command failed")
			s.metrics.IncCommand(string(p.verb), "failed")
			s.emit(Event{Type: EventCommandFailed, PrinterID: id, Verb: p.verb, Error: sendErr.Error()})
			return DeviceState{}, sendErr
		}
		log.Debug().Err(sendErr).Msg("command dropped the connection as expected")
		s.metrics.IncCommand(string(p.verb), "suppressed")
	} else {
		s.metrics.IncCommand(string(p.verb), "ok")
	}

	if sendErr == nil && p.logLine != "" {
		e.update(func(*DeviceState) { e.terminal.Push(p.logLine) })
	}
	// Confirmed targets take a sequence so a poll that started before the
	// command cannot put the old target back.
	if sendErr == nil && p.confirm != nil {
		e.apply(e.begin(), p.confirm)
	}

	log.Info().Msg("command sent")
	s.emit(Event{Type: EventCommandSucceeded, PrinterID: id, Verb: p.verb})

	if p.settle {
		s.pollAfter(id, s.settleDelay)
	} else {
		s.goBackground(func(ctx context.Context) {
			s.pollShared(ctx, id, e)
		})
	}
	return e.load(), nil
}
