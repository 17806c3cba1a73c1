package infmsg

// Node types as the server names them.
const (
	NodeSubdirectory = "InfSubdirectory"
	NodeText         = "InfText"
)

type ExploreNode struct {
	ID uint32 `json:"id"`
}

func NewExploreNode(id uint32) *Message {
	return newMessage(MsgExploreNode, GroupDirectory, &ExploreNode{ID: id})
}

type ExploreBegin struct {
	ID    uint32 `json:"id"`
	Total int    `json:"tot"`
}

func NewExploreBegin(id uint32, total int) *Message {
	return newMessage(MsgExploreBegin, GroupDirectory, &ExploreBegin{ID: id, Total: total})
}

type ExploreEnd struct {
	ID uint32 `json:"id"`
}

func NewExploreEnd(id uint32) *Message {
	return newMessage(MsgExploreEnd, GroupDirectory, &ExploreEnd{ID: id})
}

// AddNode announces a node (server to client) or asks for one to be created
// (client to server, ID left zero).
type AddNode struct {
	Parent uint32 `json:"par"`
	ID     uint32 `json:"id,omitempty"`
	Name   string `json:"nam"`
	Type   string `json:"typ"`
}

func NewAddNode(parent, id uint32, name, nodeType string) *Message {
	return newMessage(MsgAddNode, GroupDirectory, &AddNode{
		Parent: parent,
		ID:     id,
		Name:   name,
		Type:   nodeType,
	})
}

func (a *AddNode) IsDirectory() bool {
	return a.Type == NodeSubdirectory
}

type RemoveNode struct {
	ID uint32 `json:"id"`
}

func NewRemoveNode(id uint32) *Message {
	return newMessage(MsgRemoveNode, GroupDirectory, &RemoveNode{ID: id})
}

// SubscribeSession asks to join the session of a text node; the server's
// reply names the session group.
type SubscribeSession struct {
	ID    uint32 `json:"id"`
	Group string `json:"grp,omitempty"`
}

func NewSubscribeSession(id uint32) *Message {
	return newMessage(MsgSubscribeSession, GroupDirectory, &SubscribeSession{ID: id})
}

func NewSubscribeAck(id uint32, group string) *Message {
	return newMessage(MsgSubscribeSession, GroupDirectory, &SubscribeSession{ID: id, Group: group})
}
