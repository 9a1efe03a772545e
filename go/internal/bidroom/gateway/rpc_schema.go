package gateway

import (
	"fmt"

	"connectrpc.com/grpcreflect"
	"github.com/go-chi/chi/v5"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

const schemaPackage = "bidroom.v1"

// schemaFile describes BidRoomService and its JSON messages for reflection clients such as
// grpcurl and grpcui. Amounts travel as JSON numbers, hence double.
func schemaFile() *descriptorpb.FileDescriptorProto {
	var (
		str     = descriptorpb.FieldDescriptorProto_TYPE_STRING
		num     = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
		integer = descriptorpb.FieldDescriptorProto_TYPE_INT32
		boolean = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	)

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("bidroom/v1/bidroom.proto"),
		Package: proto.String(schemaPackage),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			schemaMessage("Bid",
				field("user_id", 1, str),
				field("display_name", 2, str),
				field("amount", 3, num),
				field("timestamp", 4, str),
			),
			schemaMessage("Participant",
				field("display_name", 1, str),
				field("role", 2, str),
			),
			schemaMessage("RoomState",
				field("room_id", 1, str),
				field("starting_price", 2, num),
				field("current_lowest_bid", 3, num),
				repeated(messageField("bid_history", 4, "Bid")),
				field("main_seconds_remaining", 5, integer),
				field("cooldown_seconds_remaining", 6, integer),
				field("main_active", 7, boolean),
				field("cooldown_active", 8, boolean),
				field("bidding_started", 9, boolean),
				field("active", 10, boolean),
				field("contractor_count", 11, integer),
				repeated(messageField("participants", 12, "Participant")),
				field("winner", 13, str),
				field("final_amount", 14, num),
				field("reason", 15, str),
			),
			schemaMessage("JoinRequest",
				field("room_id", 1, str),
				field("user_id", 2, str),
				field("display_name", 3, str),
				field("role", 4, str),
				field("connection_id", 5, str),
				field("starting_price", 6, num),
			),
			schemaMessage("JoinResponse",
				messageField("room", 1, "RoomState"),
			),
			schemaMessage("PlaceBidRequest",
				field("room_id", 1, str),
				field("user_id", 2, str),
				field("display_name", 3, str),
				field("amount", 4, num),
				field("connection_id", 5, str),
			),
			schemaMessage("PlaceBidResponse",
				field("accepted", 1, boolean),
				field("reason", 2, str),
				field("amount", 3, num),
			),
			schemaMessage("LeaveRequest",
				field("connection_id", 1, str),
			),
			schemaMessage("LeaveResponse",
				repeated(field("rooms", 1, str)),
			),
			schemaMessage("GetRoomRequest",
				field("room_id", 1, str),
			),
			schemaMessage("GetRoomResponse",
				messageField("room", 1, "RoomState"),
			),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("BidRoomService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("Join", "JoinRequest", "JoinResponse"),
				method("PlaceBid", "PlaceBidRequest", "PlaceBidResponse"),
				method("Leave", "LeaveRequest", "LeaveResponse"),
				method("GetRoom", "GetRoomRequest", "GetRoomResponse"),
			},
		}},
	}
}

func schemaMessage(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{
		Name:  proto.String(name),
		Field: fields,
	}
}

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   typ.Enum(),
	}
}

func messageField(name string, number int32, message string) *descriptorpb.FieldDescriptorProto {
	f := field(name, number, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	f.TypeName = proto.String("." + schemaPackage + "." + message)
	return f
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func method(name, input, output string) *descriptorpb.MethodDescriptorProto {
	return &descriptorpb.MethodDescriptorProto{
		Name:       proto.String(name),
		InputType:  proto.String("." + schemaPackage + "." + input),
		OutputType: proto.String("." + schemaPackage + "." + output),
	}
}

// schemaFiles builds a private descriptor registry holding the service schema
func schemaFiles() (*protoregistry.Files, error) {
	files := new(protoregistry.Files)
	fd, err := protodesc.NewFile(schemaFile(), files)
	if err != nil {
		return nil, fmt.Errorf("failed to build service schema: %w", err)
	}
	if err := files.RegisterFile(fd); err != nil {
		return nil, fmt.Errorf("failed to register service schema: %w", err)
	}
	return files, nil
}

// RegisterReflection mounts the gRPC reflection handlers for BidRoomService
func RegisterReflection(r chi.Router) error {
	files, err := schemaFiles()
	if err != nil {
		return err
	}

	reflector := grpcreflect.NewReflector(
		grpcreflect.NamerFunc(func() []string { return []string{BidRoomServiceName} }),
		grpcreflect.WithDescriptorResolver(files),
	)
	r.Mount(grpcreflect.NewHandlerV1(reflector))
	r.Mount(grpcreflect.NewHandlerV1Alpha(reflector))
	return nil
}
