package controllers

import (
	"context"
	"encoding/json"
	"log"

	"opencr/internal"
	"opencr/pkg/scm"
	"opencr/pkg/worker"
)

// CommandTopic carries recognized bot commands for processing.
const CommandTopic = "comment.process"

// CommentController screens new comments for bot commands. Comments without
// the command prefix are acknowledged and ignored.
type CommentController struct {
	publisher     internal.Publisher
	commandPrefix string
	logger        *log.Logger
}

func NewCommentController(publisher internal.Publisher, commandPrefix string, logger *log.Logger) *CommentController {
	if logger == nil {
		logger = internal.NewLogger("controller")
	}
	return &CommentController{publisher: publisher, commandPrefix: commandPrefix, logger: logger}
}

func (c *CommentController) Register(w *worker.Worker) {
	w.HandleKind(internal.KindCommentCreated, c.Handle)
}

func (c *CommentController) Handle(ctx context.Context, evt *internal.Event) error {
	body := commentBody(evt.Payload)
	if body == "" {
		return nil
	}
	cmd, ok := scm.ParseCommand(body, c.commandPrefix)
	if !ok {
		return nil
	}

	command := *evt
	payload, err := json.Marshal(struct {
		Event   internal.Event `json:"event"`
		Command scm.Command    `json:"command"`
	}{Event: *evt, Command: cmd})
	if err != nil {
		return err
	}
	command.Payload = payload
	if command.Metadata == nil {
		command.Metadata = map[string]string{}
	}
	command.Metadata["command"] = cmd.Name

	c.logger.Printf("command=%s args=%q delivery=%s repo=%s", cmd.Name, cmd.Args, evt.DeliveryID, evt.Repo.FullName)
	return c.publisher.Publish(ctx, CommandTopic, command)
}

// commentBody extracts the comment text from the platform payload. Each
// platform nests it differently; absent paths just yield "".
func commentBody(payload []byte) string {
	var probe struct {
		Comment struct {
			Body    string `json:"body"` // github
			Content struct {
				Raw string `json:"raw"` // bitbucket
			} `json:"content"`
		} `json:"comment"`
		ObjectAttributes struct {
			Note string `json:"note"` // gitlab
		} `json:"object_attributes"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	if probe.Comment.Body != "" {
		return probe.Comment.Body
	}
	if probe.ObjectAttributes.Note != "" {
		return probe.ObjectAttributes.Note
	}
	return probe.Comment.Content.Raw
}
