package calls

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"calld/internal/dialecho"
	"calld/internal/directory"
	"calld/internal/telephony"
	"calld/pkg/logger"
)

// Originate places a call from a user's device (or mobile phone) to a
// dialplan destination.
func (s *Service) Originate(ctx context.Context, tenantUUID string, req OriginateRequest) (Call, error) {
	dest := req.Destination
	if dest.Priority == 0 {
		dest.Priority = 1
	}
	ok, err := s.actions.ExtensionExists(ctx, dest.Context, dest.Extension, dest.Priority)
	if err != nil {
		return Call{}, fmt.Errorf("calls: check extension: %w", err)
	}
	if !ok {
		return Call{}, invalidExtension(dest.Context, dest.Extension)
	}

	user, err := s.dir.User(ctx, tenantUUID, req.Source.User)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return Call{}, invalidUser(req.Source.User)
		}
		return Call{}, fmt.Errorf("calls: lookup user: %w", err)
	}

	vars := make(map[string]string, len(req.Variables)+16)
	for k, v := range req.Variables {
		vars[k] = v
	}

	var ch telephony.ChannelData
	if req.Source.FromMobile {
		ch, err = s.originateMobile(ctx, tenantUUID, user, dest, vars)
	} else {
		ch, err = s.originateDevice(ctx, tenantUUID, user, req.Source, dest, vars)
	}
	if err != nil {
		return Call{}, err
	}

	call, err := s.project(ctx, ch)
	if err != nil {
		return Call{}, err
	}
	call.DialedExtension = dest.Extension
	return call, nil
}

// originateMobile dials the user's mobile first, then the destination. The
// mobile leg is identified through a dial echo.
func (s *Service) originateMobile(ctx context.Context, tenantUUID string, user directory.User, dest Destination, vars map[string]string) (telephony.ChannelData, error) {
	mobile := user.MobilePhoneNumber
	if mobile == "" {
		return telephony.ChannelData{}, callCreation("user has no mobile phone number", map[string]any{"user": user.UUID})
	}
	mainLine, err := s.mainLine(ctx, tenantUUID, user.UUID)
	if err != nil {
		return telephony.ChannelData{}, err
	}
	ok, err := s.actions.ExtensionExists(ctx, mainLine.Context, mobile, 1)
	if err != nil {
		return telephony.ChannelData{}, fmt.Errorf("calls: check mobile extension: %w", err)
	}
	if !ok {
		return telephony.ChannelData{}, callCreation("user has an invalid mobile phone number", map[string]any{
			"user":           user.UUID,
			"mobile_exten":   mobile,
			"mobile_context": mainLine.Context,
		})
	}

	mobileCallerID := fmt.Sprintf(`"%s" <%s>`, mobile, mobile)
	destCallerID := fmt.Sprintf(`"%s" <%s>`, dest.Extension, dest.Extension)
	setDefault(vars, "_"+varUserUUID, user.UUID)
	setDefault(vars, "_"+varTenantUUID, user.TenantUUID)
	setDefault(vars, varDereferencedUserUUID, user.UUID)
	setDefault(vars, varOriginateMobilePrio, "1")
	setDefault(vars, varOriginateMobileExten, mobile)
	setDefault(vars, varOriginateMobileContext, mainLine.Context)
	setDefault(vars, varFixCallerID, "1")
	setDefault(vars, varOriginalCallerID, destCallerID)
	setDefault(vars, varOriginateDestPrio, strconv.Itoa(dest.Priority))
	setDefault(vars, varOriginateDestExten, dest.Extension)
	setDefault(vars, varOriginateDestContext, dest.Context)
	setDefault(vars, varOriginateDestCallerID, mobileCallerID)

	requestID := s.echoes.NewRequest()
	vars["_"+varDialEchoRequestID] = requestID

	if _, err := s.backend.Originate(ctx, telephony.OriginateRequest{
		Endpoint:  mobileLeg1Endpoint,
		Context:   mobileLeg2Context,
		Extension: "s",
		Priority:  1,
		Variables: vars,
	}); err != nil {
		s.echoes.Cancel(requestID)
		return telephony.ChannelData{}, fmt.Errorf("calls: originate mobile leg: %w", err)
	}

	channelID, err := s.echoes.Wait(ctx, requestID, s.opts.DialEchoTimeout)
	if err != nil {
		if errors.Is(err, dialecho.ErrTimeout) {
			logger.From(ctx).Warn("mobile leg not identified", "user_uuid", user.UUID, "request_id", requestID)
			return telephony.ChannelData{}, callCreation("could not dial mobile number", map[string]any{
				"mobile_extension": mobile,
				"mobile_context":   mainLine.Context,
			})
		}
		return telephony.ChannelData{}, err
	}
	return s.channel(ctx, channelID)
}

// originateDevice dials the user's line (or every line) and sends it to the
// destination once answered.
func (s *Service) originateDevice(ctx context.Context, tenantUUID string, user directory.User, src Source, dest Destination, vars map[string]string) (telephony.ChannelData, error) {
	var endpoint string
	if src.AllLines {
		endpoint = fmt.Sprintf("local/%s@%s", user.UUID, sharedLinesContext)
	} else {
		line, err := s.sourceLine(ctx, tenantUUID, user.UUID, src.LineID)
		if err != nil {
			return telephony.ChannelData{}, err
		}
		endpoint = line.Interface()
		if line.Protocol == directory.ProtocolSIP {
			online, err := s.backend.EndpointOnline(ctx, line.Technology(), line.Name)
			if err != nil && !errors.Is(err, telephony.ErrEndpointNotFound) {
				return telephony.ChannelData{}, fmt.Errorf("calls: endpoint state: %w", err)
			}
			if !online {
				return telephony.ChannelData{}, originUnavailable(line.ID, endpoint)
			}
		}
	}

	if src.AutoAnswer {
		for k, v := range autoAnswerVariables {
			vars[k] = v
		}
	}
	connectedNum := dest.Extension
	if strings.HasPrefix(dest.Extension, "#") {
		connectedNum = ""
	}
	setDefault(vars, varFixCallerID, "1")
	setDefault(vars, varUserUUID, user.UUID)
	setDefault(vars, "_"+varTenantUUID, user.TenantUUID)
	setDefault(vars, "CONNECTEDLINE(name)", dest.Extension)
	setDefault(vars, "CONNECTEDLINE(num)", connectedNum)
	setDefault(vars, "CALLERID(name)", dest.Extension)
	setDefault(vars, "CALLERID(num)", dest.Extension)
	setDefault(vars, varChannelDirection, channelDirectionToPlatform)

	ch, err := s.backend.Originate(ctx, telephony.OriginateRequest{
		Endpoint:  endpoint,
		Context:   dest.Context,
		Extension: dest.Extension,
		Priority:  int64(dest.Priority),
		Variables: vars,
	})
	if err != nil {
		return telephony.ChannelData{}, fmt.Errorf("calls: originate: %w", err)
	}
	return ch, nil
}

// OriginateUser originates on behalf of userUUID, dialing req.Extension in
// the context of the chosen line.
func (s *Service) OriginateUser(ctx context.Context, tenantUUID, userUUID string, req UserOriginateRequest) (Call, error) {
	var line directory.Line
	var err error
	if req.LineID != 0 && !req.FromMobile {
		line, err = s.sourceLine(ctx, tenantUUID, userUUID, req.LineID)
	} else {
		line, err = s.mainLine(ctx, tenantUUID, userUUID)
	}
	if err != nil {
		return Call{}, err
	}

	return s.Originate(ctx, tenantUUID, OriginateRequest{
		Destination: Destination{Context: line.Context, Extension: req.Extension, Priority: 1},
		Source: Source{
			User:       userUUID,
			LineID:     req.LineID,
			AllLines:   req.AllLines,
			FromMobile: req.FromMobile,
			AutoAnswer: req.AutoAnswerCaller,
		},
		Variables: req.Variables,
	})
}

func (s *Service) mainLine(ctx context.Context, tenantUUID, userUUID string) (directory.Line, error) {
	line, err := s.dir.MainLine(ctx, tenantUUID, userUUID)
	if err != nil {
		if errors.Is(err, directory.ErrNoMainLine) {
			return directory.Line{}, userMissingMainLine(userUUID)
		}
		return directory.Line{}, fmt.Errorf("calls: lookup main line: %w", err)
	}
	return line, nil
}

// sourceLine returns line lineID of the user, or the main line for 0.
func (s *Service) sourceLine(ctx context.Context, tenantUUID, userUUID string, lineID int) (directory.Line, error) {
	if lineID == 0 {
		return s.mainLine(ctx, tenantUUID, userUUID)
	}
	line, err := s.dir.Line(ctx, tenantUUID, userUUID, lineID)
	if err != nil {
		if errors.Is(err, directory.ErrLineNotFound) {
			return directory.Line{}, invalidUserLine(userUUID, lineID)
		}
		return directory.Line{}, fmt.Errorf("calls: lookup line: %w", err)
	}
	return line, nil
}

func setDefault(vars map[string]string, name, value string) {
	if _, ok := vars[name]; !ok {
		vars[name] = value
	}
}
