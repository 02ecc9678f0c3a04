package migration

import (
	"github.com/concrnt/ccworld-migration/store"
)

var (
	contactDependents = []store.Reference{{Table: "aspect_memberships", Column: "contact_id"}}
	aspectDependents  = []store.Reference{{Table: "aspect_memberships", Column: "aspect_id"}}
)

// PersonReferences are the columns rewritten from the old person to the new
// one. Profile, owner, pod and the migration bookkeeping are left alone.
var PersonReferences = []store.Reference{
	{Table: "posts", Column: "author_id"},
	{Table: "photos", Column: "author_id"},
	{Table: "comments", Column: "author_id"},
	{Table: "likes", Column: "author_id"},
	{Table: "poll_participations", Column: "author_id"},
	{Table: "participations", Column: "author_id", UniqueWith: "target_id"},
	{Table: "mentions", Column: "person_id"},
	{Table: "conversations", Column: "author_id"},
	{Table: "conversation_visibilities", Column: "person_id"},
	{Table: "messages", Column: "author_id"},
	{Table: "contacts", Column: "person_id", UniqueWith: "user_id", Dependents: contactDependents},
	{Table: "blocks", Column: "person_id"},
	{Table: "roles", Column: "person_id"},
}

// UserReferences are the columns rewritten from the old user to the new one
// when both live on this pod.
var UserReferences = []store.Reference{
	{Table: "contacts", Column: "user_id", UniqueWith: "person_id", Dependents: contactDependents},
	{Table: "aspects", Column: "user_id", UniqueWith: "name", Dependents: aspectDependents},
	{Table: "tag_followings", Column: "user_id", UniqueWith: "tag_id"},
	{Table: "blocks", Column: "user_id"},
	{Table: "invitations", Column: "sender_id"},
	{Table: "invitations", Column: "recipient_id"},
	{Table: "services", Column: "user_id"},
	{Table: "share_visibilities", Column: "user_id"},
	{Table: "authorizations", Column: "user_id"},
	{Table: "reports", Column: "user_id"},
	{Table: "notifications", Column: "recipient_id"},
	{Table: "user_preferences", Column: "user_id"},
}

// notRewritten lists every other id column. They point at neither people
// nor users, or their rows belong to one identity only.
var notRewritten = []string{
	// identity bookkeeping
	"people.owner_id",
	"people.pod_id",
	"profiles.person_id",
	"users.auto_follow_back_aspect_id",
	"users.invited_by_id",
	"account_migrations.old_person_id",
	"account_migrations.new_person_id",
	"account_migrations.signature_id",
	"account_deletions.person_id",
	"ppid.user_id",

	// content
	"polls.status_message_id",
	"poll_answers.poll_id",
	"locations.status_message_id",
	"comments.post_id",
	"likes.target_id",
	"poll_participations.poll_id",
	"poll_participations.poll_answer_id",
	"participations.target_id",
	"mentions.mentions_container_id",
	"conversation_visibilities.conversation_id",
	"messages.conversation_id",
	"aspects.order_id",
	"aspect_memberships.aspect_id",
	"aspect_memberships.contact_id",
	"tag_followings.tag_id",
	"share_visibilities.shareable_id",
	"authorizations.application_id",
	"reports.item_id",
	"notifications.target_id",
}
